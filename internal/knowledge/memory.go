package knowledge

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/hyperjump/kousei/internal/models"
	"github.com/hyperjump/kousei/pkg/utils"
)

// snapshotMagic identifies MemoryStore snapshot files.
var snapshotMagic = [4]byte{'K', 'S', 'K', '1'}

// MemoryStore is an in-process Store using brute-force inner product search.
// Suitable for tests and small knowledge bases; Save and Load persist it between runs.
type MemoryStore struct {
	dimensions int
	items      map[string]*models.KnowledgeItem
	mu         sync.RWMutex
}

// NewMemoryStore creates an empty store for vectors of the given dimension.
func NewMemoryStore(dimensions int) (*MemoryStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryStore{dimensions: dimensions, items: make(map[string]*models.KnowledgeItem)}, nil
}

func cloneItem(it *models.KnowledgeItem) *models.KnowledgeItem {
	cp := *it
	cp.IssueCategory = slices.Clone(it.IssueCategory)
	cp.Embedding = slices.Clone(it.Embedding)
	return &cp
}

func (m *MemoryStore) Upsert(ctx context.Context, items []*models.KnowledgeItem) (int, error) {
	for _, it := range items {
		if it.ID == "" {
			return 0, fmt.Errorf("knowledge item without id")
		}
		if len(it.Embedding) != m.dimensions {
			return 0, fmt.Errorf("item %s: %w: got %d, expected %d", it.ID, ErrDimensionMismatch, len(it.Embedding), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	written := 0
	for _, it := range items {
		if old, ok := m.items[it.ID]; ok && old.SameContent(it) && slices.Equal(old.Embedding, it.Embedding) {
			continue
		}
		m.items[it.ID] = cloneItem(it)
		written++
	}
	return written, nil
}

func (m *MemoryStore) Search(ctx context.Context, embedding []float32, topK int, filter models.KnowledgeFilter) ([]*models.ScoredItem, error) {
	if len(embedding) != m.dimensions {
		return nil, fmt.Errorf("query: %w: got %d, expected %d", ErrDimensionMismatch, len(embedding), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if topK <= 0 || len(m.items) == 0 {
		return nil, nil
	}
	hits := make([]*models.ScoredItem, 0, len(m.items))
	for id, it := range m.items {
		if !filter.Matches(it) {
			continue
		}
		hits = append(hits, &models.ScoredItem{ID: id, Score: utils.InnerProduct(embedding, it.Embedding), Item: cloneItem(it)})
	}
	sortScored(hits)
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.KnowledgeItem, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return nil, false, nil
	}
	return cloneItem(it), true, nil
}

func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

// Items returns a copy of every stored item in id order.
func (m *MemoryStore) Items() []*models.KnowledgeItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.KnowledgeItem, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, cloneItem(it))
	}
	slices.SortFunc(out, func(a, b *models.KnowledgeItem) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (m *MemoryStore) Close() error {
	return nil
}

// Save writes a snapshot to path, creating the directory if needed. Format: magic (4),
// dimension (4), n (4), then per item: metadata length (4), metadata JSON, vector
// (dimension*4 bytes), all little endian.
func (m *MemoryStore) Save(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.writeSnapshot(w); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *MemoryStore) writeSnapshot(w io.Writer) error {
	items := m.Items()
	if _, err := w.Write(snapshotMagic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(items))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, it := range items {
		meta, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode item %s: %w", it.ID, err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(meta))); err != nil {
			return fmt.Errorf("write metadata len: %w", err)
		}
		if _, err := w.Write(meta); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(it.Embedding)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load replaces the store contents with the snapshot at path. A missing file leaves the
// store unchanged. The snapshot dimension must match.
func (m *MemoryStore) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != snapshotMagic {
		return fmt.Errorf("%s is not a knowledge snapshot", path)
	}
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("snapshot %w: file has %d, store expects %d", ErrDimensionMismatch, dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}

	items := make(map[string]*models.KnowledgeItem, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var metaLen uint32
		if err := binary.Read(r, binary.LittleEndian, &metaLen); err != nil {
			return fmt.Errorf("read metadata len: %w", err)
		}
		meta := make([]byte, metaLen)
		if _, err := io.ReadFull(r, meta); err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		var it models.KnowledgeItem
		if err := json.Unmarshal(meta, &it); err != nil {
			return fmt.Errorf("decode item %d: %w", i, err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		it.Embedding = bytesToFloat32Slice(buf)
		items[it.ID] = &it
	}

	m.mu.Lock()
	m.items = items
	m.mu.Unlock()
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
