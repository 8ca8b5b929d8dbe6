package keymgr

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zmlAEQ/mpc-intake/pkg/logger"
	"github.com/zmlAEQ/mpc-intake/pkg/metrics"
)

// Store persists the domain -> key descriptor table with atomic writes
// (tmp+fsync+rename) and serves reads through a small LRU cache.
type Store struct {
	mu      sync.Mutex
	path    string
	domains map[DomainID]KeyDescriptor
	cache   *lru.Cache[DomainID, KeyDescriptor]
}

const (
	magicDom   uint32 = 0x444f4d4b // 'DOMK'
	versionDom uint16 = 1
	cacheSize         = 256
)

type domainFile struct {
	Domains map[DomainID]KeyDescriptor `json:"domains"`
}

// NewStore opens the store at path, loading the existing table when present.
func NewStore(path string) (*Store, error) {
	c, err := lru.New[DomainID, KeyDescriptor](cacheSize)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, domains: make(map[DomainID]KeyDescriptor), cache: c}
	if path == "" {
		return s, nil
	}
	df, err := readDomains(path)
	switch {
	case err == nil:
		s.domains = df.Domains
		logger.InfoJ("keymgr_store", map[string]any{"op": "load", "result": "ok", "domains": len(df.Domains)})
	case errors.Is(err, os.ErrNotExist):
		logger.InfoJ("keymgr_store", map[string]any{"op": "load", "result": "miss"})
	default:
		logger.ErrorJ("keymgr_store", map[string]any{"op": "load", "result": "error", "err": err.Error()})
		return nil, err
	}
	return s, nil
}

func writeDomains(path string, df domainFile) error {
	b, err := json.Marshal(df)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	var hdr [4 + 2 + 2 + 4 + 4]byte
	off := 0
	binary.BigEndian.PutUint32(hdr[off:], magicDom)
	off += 4
	binary.BigEndian.PutUint16(hdr[off:], versionDom)
	off += 2
	binary.BigEndian.PutUint16(hdr[off:], 0)
	off += 2
	binary.BigEndian.PutUint32(hdr[off:], uint32(len(b)))
	off += 4
	binary.BigEndian.PutUint32(hdr[off:], crc32.ChecksumIEEE(b))
	if _, err = f.Write(hdr[:]); err != nil {
		_ = f.Close()
		return err
	}
	if _, err = f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readDomains(path string) (domainFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return domainFile{}, err
	}
	defer f.Close()
	var hdr [4 + 2 + 2 + 4 + 4]byte
	if _, err = io.ReadFull(f, hdr[:]); err != nil {
		return domainFile{}, err
	}
	off := 0
	if binary.BigEndian.Uint32(hdr[off:]) != magicDom {
		return domainFile{}, errors.New("bad magic")
	}
	off += 4
	_ = binary.BigEndian.Uint16(hdr[off:])
	off += 2
	off += 2
	l := binary.BigEndian.Uint32(hdr[off:])
	off += 4
	want := binary.BigEndian.Uint32(hdr[off:])
	body := make([]byte, int(l))
	if _, err = io.ReadFull(f, body); err != nil {
		return domainFile{}, err
	}
	if crc32.ChecksumIEEE(body) != want {
		return domainFile{}, errors.New("crc mismatch")
	}
	var df domainFile
	if err := json.Unmarshal(body, &df); err != nil {
		return domainFile{}, err
	}
	if df.Domains == nil {
		df.Domains = make(map[DomainID]KeyDescriptor)
	}
	return df, nil
}

// PutDomain registers (or replaces) a domain's key descriptor and persists
// the table.
func (s *Store) PutDomain(id DomainID, desc KeyDescriptor) error {
	if !desc.Valid() {
		return ErrBadDescriptor
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.domains[id]
	s.domains[id] = desc
	s.cache.Remove(id)
	if s.path != "" {
		if err := writeDomains(s.path, domainFile{Domains: s.domains}); err != nil {
			if had {
				s.domains[id] = prev
			} else {
				delete(s.domains, id)
			}
			logger.ErrorJ("keymgr_store", map[string]any{"op": "persist", "result": "error", "err": err.Error()})
			return err
		}
	}
	logger.InfoJ("keymgr_store", map[string]any{"op": "persist", "result": "ok", "domain": uint64(id), "curve": string(desc.Curve)})
	return nil
}

// PublicKey returns the key descriptor registered for the domain.
func (s *Store) PublicKey(id DomainID) (KeyDescriptor, error) {
	if d, ok := s.cache.Get(id); ok {
		metrics.Inc("keymgr_lookups_total", map[string]string{"result": "hit"})
		return d, nil
	}
	s.mu.Lock()
	d, ok := s.domains[id]
	if ok {
		// Fill under the same lock PutDomain holds for its invalidation, so a
		// concurrent replace cannot be overwritten by a stale fill.
		s.cache.Add(id, d)
	}
	s.mu.Unlock()
	if !ok {
		metrics.Inc("keymgr_lookups_total", map[string]string{"result": "miss"})
		return KeyDescriptor{}, ErrDomainUnknown
	}
	metrics.Inc("keymgr_lookups_total", map[string]string{"result": "ok"})
	return d, nil
}

// Domains lists registered domain ids in ascending order.
func (s *Store) Domains() []DomainID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DomainID, 0, len(s.domains))
	for id := range s.domains {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
