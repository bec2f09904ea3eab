package index

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/checktor/amnesiadb/core"
)

// hashFunction is a single p-stable projection: a Gaussian random
// vector plus a uniform offset in [0, bucketWidth).
type hashFunction struct {
	RandomVector []float32 `json:"random_vector"`
	Offset       float32   `json:"offset"`
}

// hashTable concatenates NumFunctions projections into one signature
// and maps signatures to insertion-ordered bucket lists.
type hashTable struct {
	Functions []hashFunction      `json:"functions"`
	Buckets   map[string][]string `json:"buckets"`
}

// LSHIndex implements locality-sensitive hashing for Euclidean
// distance based on p-stable (Gaussian) projections, after Datar,
// Immorlica et al. (2004). Points close in L2 collide with probability
// decreasing smoothly with distance; (L, k, bucketWidth) trade recall
// against query cost without an exhaustive scan.
type LSHIndex struct {
	mu           sync.RWMutex
	params       core.IndexParams
	basisVersion string
	tables       []hashTable
	signatures   map[string][]string // id -> one signature per table
}

// NewLSHIndex draws the random projections for all tables from a
// seeded source, so identical parameters reproduce identical bucket
// assignments.
func NewLSHIndex(params core.IndexParams, basisVersion string) (*LSHIndex, error) {
	if params.NumTables <= 0 {
		return nil, fmt.Errorf("number of hash tables must be positive, got %d", params.NumTables)
	}
	if params.NumFunctions <= 0 {
		return nil, fmt.Errorf("number of hash functions must be positive, got %d", params.NumFunctions)
	}
	if params.BucketWidth <= 0 {
		return nil, fmt.Errorf("bucket width must be positive, got %f", params.BucketWidth)
	}
	if params.TargetDim <= 0 {
		return nil, fmt.Errorf("target dimension must be positive, got %d", params.TargetDim)
	}

	rng := rand.New(rand.NewSource(params.Seed))

	tables := make([]hashTable, params.NumTables)
	for i := range tables {
		functions := make([]hashFunction, params.NumFunctions)
		for j := range functions {
			vec := make([]float32, params.TargetDim)
			for d := range vec {
				vec[d] = float32(rng.NormFloat64())
			}
			functions[j] = hashFunction{
				RandomVector: vec,
				Offset:       float32(rng.Float64()) * params.BucketWidth,
			}
		}
		tables[i] = hashTable{
			Functions: functions,
			Buckets:   make(map[string][]string),
		}
	}

	return &LSHIndex{
		params:       params,
		basisVersion: basisVersion,
		tables:       tables,
		signatures:   make(map[string][]string),
	}, nil
}

// signature concatenates the bucket indices of all hash functions in
// one table into a single key, e.g. "p3n1p0" for (3, -1, 0).
func (t *hashTable) signature(vec []float32, bucketWidth float32) string {
	var sb strings.Builder
	for _, fn := range t.Functions {
		var dot float32
		for d, val := range vec {
			dot += val * fn.RandomVector[d]
		}
		slot := int64(math.Floor(float64((dot + fn.Offset) / bucketWidth)))
		if slot < 0 {
			sb.WriteByte('n')
			sb.WriteString(strconv.FormatInt(-slot, 10))
		} else {
			sb.WriteByte('p')
			sb.WriteString(strconv.FormatInt(slot, 10))
		}
	}
	return sb.String()
}

// Insert hashes the reduced vector into every table. Each id may be
// inserted once; re-inserting is a duplicate error.
func (l *LSHIndex) Insert(id string, vector []float32) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if err := core.ValidateDimension(vector, l.params.TargetDim); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.signatures[id]; exists {
		return fmt.Errorf("%w: %s", core.ErrDuplicateID, id)
	}

	sigs := make([]string, len(l.tables))
	for i := range l.tables {
		sig := l.tables[i].signature(vector, l.params.BucketWidth)
		l.tables[i].Buckets[sig] = append(l.tables[i].Buckets[sig], id)
		sigs[i] = sig
	}
	l.signatures[id] = sigs

	return nil
}

// Remove deletes the id from every bucket it was hashed into, using
// the retained id to signature mapping.
func (l *LSHIndex) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sigs, exists := l.signatures[id]
	if !exists {
		return fmt.Errorf("%w: %s", core.ErrPointNotFound, id)
	}

	for i, sig := range sigs {
		bucket := l.tables[i].Buckets[sig]
		for j, bid := range bucket {
			if bid == id {
				bucket = append(bucket[:j], bucket[j+1:]...)
				break
			}
		}
		if len(bucket) == 0 {
			delete(l.tables[i].Buckets, sig)
		} else {
			l.tables[i].Buckets[sig] = bucket
		}
	}
	delete(l.signatures, id)

	return nil
}

// Candidates returns the union of the matching bucket of every table,
// keeping first-seen insertion order. No distance filtering happens
// here.
func (l *LSHIndex) Candidates(query []float32) ([]string, error) {
	if err := core.ValidateDimension(query, l.params.TargetDim); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]struct{})
	candidates := make([]string, 0)
	for i := range l.tables {
		sig := l.tables[i].signature(query, l.params.BucketWidth)
		for _, id := range l.tables[i].Buckets[sig] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			candidates = append(candidates, id)
		}
	}

	return candidates, nil
}

// BasisVersion returns the reduction basis generation the projections
// were drawn for.
func (l *LSHIndex) BasisVersion() string {
	return l.basisVersion
}

// Size returns the number of indexed ids.
func (l *LSHIndex) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.signatures)
}

// Type returns the index type
func (l *LSHIndex) Type() string {
	return "lsh"
}

// Params returns the parameters the index was built with.
func (l *LSHIndex) Params() core.IndexParams {
	return l.params
}

// lshIndexState represents the serializable state of an LSHIndex
type lshIndexState struct {
	Params       core.IndexParams    `json:"params"`
	BasisVersion string              `json:"basis_version"`
	Tables       []hashTable         `json:"tables"`
	Signatures   map[string][]string `json:"signatures"`
}

// Serialize converts the index state to bytes
func (l *LSHIndex) Serialize() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state := lshIndexState{
		Params:       l.params,
		BasisVersion: l.basisVersion,
		Tables:       l.tables,
		Signatures:   l.signatures,
	}
	return json.Marshal(state)
}

// Deserialize restores the index state from bytes
func (l *LSHIndex) Deserialize(data []byte) error {
	var state lshIndexState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("%w: failed to unmarshal LSH index state: %v", core.ErrCorruptState, err)
	}

	if len(state.Tables) != state.Params.NumTables {
		return fmt.Errorf("%w: index state has %d tables, parameters say %d",
			core.ErrCorruptState, len(state.Tables), state.Params.NumTables)
	}
	for i := range state.Tables {
		if len(state.Tables[i].Functions) != state.Params.NumFunctions {
			return fmt.Errorf("%w: table %d has %d hash functions, parameters say %d",
				core.ErrCorruptState, i, len(state.Tables[i].Functions), state.Params.NumFunctions)
		}
		for j := range state.Tables[i].Functions {
			if len(state.Tables[i].Functions[j].RandomVector) != state.Params.TargetDim {
				return fmt.Errorf("%w: table %d function %d has dimension %d, parameters say %d",
					core.ErrCorruptState, i, j,
					len(state.Tables[i].Functions[j].RandomVector), state.Params.TargetDim)
			}
		}
		if state.Tables[i].Buckets == nil {
			state.Tables[i].Buckets = make(map[string][]string)
		}
	}
	if state.Signatures == nil {
		state.Signatures = make(map[string][]string)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.params = state.Params
	l.basisVersion = state.BasisVersion
	l.tables = state.Tables
	l.signatures = state.Signatures

	return nil
}
