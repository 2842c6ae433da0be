package testutils

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Status is the protocol independent result of an engine operation. Each
// protocol handler maps it to its own wire status.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusExists
	StatusNotStored
	StatusCasMismatch
	StatusInvalid
	StatusNoAccess
	StatusNotMyVBucket
	StatusNoBucket
	StatusAuthError
	StatusAuthContinue
	StatusUnknownCommand
	StatusTmpFail
	StatusNotSupported
)

// Mutation kinds, numbered like the Greenstack wire enumeration.
type Mutation uint8

const (
	MutationAdd Mutation = iota
	MutationSet
	MutationReplace
	MutationAppend
	MutationPrepend
	MutationPatch
)

// Bucket kinds, numbered like the Greenstack wire enumeration.
const (
	BucketInvalid uint8 = iota
	BucketNoBucket
	BucketMemcached
	BucketCouchbase
	BucketEWouldBlock
)

// Ewouldblock engine modes and the injected engine codes understood here.
const (
	EWBNextN       uint32 = 0
	EWBCasMismatch uint32 = 5

	engineKeyENoEnt    uint32 = 0x01
	engineKeyEExists   uint32 = 0x02
	engineNotStored    uint32 = 0x04
	engineEInval       uint32 = 0x05
	engineEWouldBlock  uint32 = 0x07
	engineEAccess      uint32 = 0x0b
	engineNotMyVBucket uint32 = 0x0c
)

// Default credentials accepted by a new Engine.
const (
	AdminUser     = "_admin"
	AdminPassword = "password"
)

// Item is a stored document.
type Item struct {
	Value       []byte
	Flags       uint32
	Expiration  uint32
	Datatype    uint8
	Compression uint8
	Cas         uint64
}

// MutationResult is returned by successful stores.
type MutationResult struct {
	Cas         uint64
	Size        uint64
	Seqno       uint64
	VBucketUUID uint64
}

type itemKey struct {
	vbucket uint16
	id      string
}

type ewbConfig struct {
	mode  uint32
	value uint32
	code  uint32
}

type bucket struct {
	name   string
	kind   uint8
	config string
	items  map[itemKey]*Item
	seqnos map[uint16]uint64
	uuid   uint64
	ewb    *ewbConfig
}

// Engine is the storage and control plane shared by every listener of a
// test server. It is safe for concurrent use.
type Engine struct {
	NumVBuckets int

	mu           sync.Mutex
	users        map[string]string
	buckets      map[string]*bucket
	bucketOrder  []string
	ioctls       map[string]string
	cas          uint64
	nextUUID     uint64
	auditReloads atomic.Int64
	connections  atomic.Int64
}

// NewEngine creates an engine with the admin user and no bucket.
func NewEngine() *Engine {
	return &Engine{
		NumVBuckets: 1024,
		users:       map[string]string{AdminUser: AdminPassword},
		buckets:     make(map[string]*bucket),
		ioctls:      map[string]string{"trace.status": "disabled"},
		nextUUID:    0xabcd0000,
	}
}

// AddUser registers credentials accepted by PLAIN and SCRAM.
func (e *Engine) AddUser(user, password string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.users[user] = password
}

func (e *Engine) password(user string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.users[user]
	return p, ok
}

// AuditReloads returns how many times the audit configuration was reloaded.
func (e *Engine) AuditReloads() int64 {
	return e.auditReloads.Load()
}

func (e *Engine) reloadAudit() {
	e.auditReloads.Add(1)
}

func (e *Engine) CreateBucket(name, config string, kind uint8) Status {
	if name == "" || strings.ContainsAny(name, " \x00") {
		return StatusInvalid
	}
	if kind != BucketMemcached && kind != BucketCouchbase && kind != BucketEWouldBlock {
		return StatusInvalid
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buckets[name]; ok {
		return StatusExists
	}
	e.nextUUID++
	e.buckets[name] = &bucket{
		name:   name,
		kind:   kind,
		config: config,
		items:  make(map[itemKey]*Item),
		seqnos: make(map[uint16]uint64),
		uuid:   e.nextUUID,
	}
	e.bucketOrder = append(e.bucketOrder, name)
	return StatusOK
}

func (e *Engine) DeleteBucket(name string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buckets[name]; !ok {
		return StatusNotFound
	}
	delete(e.buckets, name)
	for i, n := range e.bucketOrder {
		if n == name {
			e.bucketOrder = append(e.bucketOrder[:i], e.bucketOrder[i+1:]...)
			break
		}
	}
	return StatusOK
}

func (e *Engine) ListBuckets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.bucketOrder...)
}

func (e *Engine) bucket(name string) (*bucket, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.buckets[name]
	return b, ok
}

// injected consumes one ewouldblock injection for b, if any is armed.
// Must be called with the lock held.
func (e *Engine) injected(b *bucket, store bool) (Status, bool) {
	if b.ewb == nil || b.ewb.value == 0 {
		return StatusOK, false
	}
	switch b.ewb.mode {
	case EWBNextN:
		b.ewb.value--
		return engineStatus(b.ewb.code), true
	case EWBCasMismatch:
		if !store {
			return StatusOK, false
		}
		b.ewb.value--
		return StatusCasMismatch, true
	default:
		return StatusOK, false
	}
}

func engineStatus(code uint32) Status {
	switch code {
	case engineKeyENoEnt:
		return StatusNotFound
	case engineKeyEExists:
		return StatusExists
	case engineNotStored:
		return StatusNotStored
	case engineEInval:
		return StatusInvalid
	case engineEAccess:
		return StatusNoAccess
	case engineNotMyVBucket:
		return StatusNotMyVBucket
	case engineEWouldBlock:
		return StatusTmpFail
	default:
		return StatusTmpFail
	}
}

// ConfigureEWB arms error injection on the bucket.
func (e *Engine) ConfigureEWB(bucketName string, mode, value, code uint32) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.buckets[bucketName]
	if !ok {
		return StatusNoBucket
	}
	b.ewb = &ewbConfig{mode: mode, value: value, code: code}
	return StatusOK
}

func (e *Engine) Get(bucketName, id string, vbucket uint16) (Item, Status) {
	if int(vbucket) >= e.NumVBuckets {
		return Item{}, StatusNotMyVBucket
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.buckets[bucketName]
	if !ok {
		return Item{}, StatusNoBucket
	}
	if st, ok := e.injected(b, false); ok {
		return Item{}, st
	}
	it, ok := b.items[itemKey{vbucket, id}]
	if !ok {
		return Item{}, StatusNotFound
	}
	cp := *it
	cp.Value = append([]byte(nil), it.Value...)
	return cp, StatusOK
}

// Store applies a mutation. A non-zero item.Cas must match the stored cas.
func (e *Engine) Store(bucketName, id string, vbucket uint16, m Mutation, item Item) (MutationResult, Status) {
	if int(vbucket) >= e.NumVBuckets {
		return MutationResult{}, StatusNotMyVBucket
	}
	if id == "" {
		return MutationResult{}, StatusInvalid
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.buckets[bucketName]
	if !ok {
		return MutationResult{}, StatusNoBucket
	}
	if st, ok := e.injected(b, true); ok {
		return MutationResult{}, st
	}

	key := itemKey{vbucket, id}
	old, exists := b.items[key]
	if exists && item.Cas != 0 && item.Cas != old.Cas {
		return MutationResult{}, StatusCasMismatch
	}

	var value []byte
	switch m {
	case MutationAdd:
		if exists {
			return MutationResult{}, StatusExists
		}
		if item.Cas != 0 {
			return MutationResult{}, StatusInvalid
		}
		value = item.Value
	case MutationSet:
		if !exists && item.Cas != 0 {
			return MutationResult{}, StatusNotFound
		}
		value = item.Value
	case MutationReplace, MutationPatch:
		if !exists {
			return MutationResult{}, StatusNotFound
		}
		value = item.Value
	case MutationAppend, MutationPrepend:
		if !exists {
			return MutationResult{}, StatusNotStored
		}
		if m == MutationAppend {
			value = append(append([]byte(nil), old.Value...), item.Value...)
		} else {
			value = append(append([]byte(nil), item.Value...), old.Value...)
		}
		item.Flags, item.Expiration, item.Datatype = old.Flags, old.Expiration, old.Datatype
	default:
		return MutationResult{}, StatusInvalid
	}

	e.cas++
	b.seqnos[vbucket]++
	b.items[key] = &Item{
		Value:       append([]byte(nil), value...),
		Flags:       item.Flags,
		Expiration:  item.Expiration,
		Datatype:    item.Datatype,
		Compression: item.Compression,
		Cas:         e.cas,
	}
	return MutationResult{
		Cas:         e.cas,
		Size:        uint64(len(value)),
		Seqno:       b.seqnos[vbucket],
		VBucketUUID: b.uuid,
	}, StatusOK
}

// Delete removes a document, used by tests to prepare state.
func (e *Engine) Delete(bucketName, id string, vbucket uint16) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.buckets[bucketName]
	if !ok {
		return StatusNoBucket
	}
	key := itemKey{vbucket, id}
	if _, ok := b.items[key]; !ok {
		return StatusNotFound
	}
	delete(b.items, key)
	return StatusOK
}

func (e *Engine) IoctlGet(key string) (string, Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.ioctls[key]
	if !ok {
		return "", StatusInvalid
	}
	return v, StatusOK
}

func (e *Engine) IoctlSet(key, value string) Status {
	if !strings.HasPrefix(key, "trace.") && !strings.HasPrefix(key, "release_free_memory") {
		return StatusInvalid
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ioctls[key] = value
	return StatusOK
}

// Stat is one key/value pair of a stats group.
type Stat struct {
	Key   string
	Value string
}

// Stats returns a stats group in a stable order. The "buckets" group holds
// one JSON document per bucket.
func (e *Engine) Stats(group, selected string) ([]Stat, Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch group {
	case "":
		return []Stat{
			{"pid", fmt.Sprint(os.Getpid())},
			{"curr_connections", fmt.Sprint(e.connections.Load())},
			{"buckets", fmt.Sprint(len(e.buckets))},
			{"audit_reloads", fmt.Sprint(e.auditReloads.Load())},
		}, StatusOK
	case "buckets":
		stats := make([]Stat, 0, len(e.bucketOrder))
		for _, name := range e.bucketOrder {
			b := e.buckets[name]
			doc, _ := json.Marshal(map[string]any{"items": len(b.items), "type": b.kind})
			stats = append(stats, Stat{name, string(doc)})
		}
		return stats, StatusOK
	case "vbucket-seqno":
		b, ok := e.buckets[selected]
		if !ok {
			return nil, StatusNoBucket
		}
		vbs := make([]int, 0, len(b.seqnos))
		for vb := range b.seqnos {
			vbs = append(vbs, int(vb))
		}
		sort.Ints(vbs)
		stats := make([]Stat, 0, 2*len(vbs))
		for _, vb := range vbs {
			stats = append(stats,
				Stat{fmt.Sprintf("vb_%d:high_seqno", vb), fmt.Sprint(b.seqnos[uint16(vb)])},
				Stat{fmt.Sprintf("vb_%d:uuid", vb), fmt.Sprint(b.uuid)},
			)
		}
		return stats, StatusOK
	default:
		return nil, StatusNotFound
	}
}
