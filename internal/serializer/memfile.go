package serializer

import "sync"

// MemSerializer is an in-memory Serializer used only by tests, the
// same role the source's mock_file_t plays for the on-disk
// serializer: a same-process stand-in with no disk I/O. Never used by
// cmd/shardkvd.
type MemSerializer struct {
	mu     sync.Mutex
	blocks map[BlockID][]byte
	nextID BlockID
}

// NewMem creates an empty in-memory serializer.
func NewMem() *MemSerializer {
	return &MemSerializer{
		blocks: make(map[BlockID][]byte),
		nextID: firstDataBlockID,
	}
}

func (m *MemSerializer) Allocate() (BlockID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	return id, nil
}

func (m *MemSerializer) Read(id BlockID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, BlockSize)
	if data, ok := m.blocks[id]; ok {
		copy(out, data)
	}
	return out, nil
}

func (m *MemSerializer) Write(id BlockID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, BlockSize)
	copy(cp, data)
	m.blocks[id] = cp
	return nil
}

func (m *MemSerializer) Close() error { return nil }
