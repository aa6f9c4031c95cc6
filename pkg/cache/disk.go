package cache

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/jfelder/masterstream/pkg/track"
)

const (
	diskExt   = ".zc"
	diskMagic = "MSC1"
)

var (
	errSignatureMismatch = errors.New("cache: source signature mismatch")
	errCorruptFile       = errors.New("cache: corrupt cache file")
)

// DiskStore persists processed chunks across restarts. Files are named
// after the chunk key so the store needs no index; each file embeds the
// source signature it was built from and is discarded when the source
// changes.
type DiskStore struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

type diskHeader struct {
	Signature       string    `json:"sig"`
	SampleCount     int       `json:"sample_count"`
	CrossfadeFrames int64     `json:"crossfade_frames"`
	Codec           string    `json:"codec"`
	ProducedAt      time.Time `json:"produced_at"`
}

// NewDiskStore opens (creating if needed) the cache directory.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("cache: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("cache: zstd decoder: %w", err)
	}
	return &DiskStore{dir: dir, encoder: enc, decoder: dec}, nil
}

func (d *DiskStore) path(key track.ChunkKey) string {
	return filepath.Join(d.dir, key.String()+diskExt)
}

// Get loads a chunk if present and built from the given source signature.
// A missing file returns (nil, nil); a stale or corrupt file is removed and
// reported so the caller rebuilds.
func (d *DiskStore) Get(key track.ChunkKey, sig track.Signature) (*Entry, error) {
	raw, err := os.ReadFile(d.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: read %s: %w", key.String(), err)
	}

	hdr, payload, err := d.decode(raw)
	if err != nil {
		os.Remove(d.path(key))
		return nil, errCorruptFile
	}
	if hdr.Signature != sig.String() {
		os.Remove(d.path(key))
		return nil, errSignatureMismatch
	}

	return &Entry{
		Key:             key,
		Bytes:           payload,
		SampleCount:     hdr.SampleCount,
		CrossfadeFrames: hdr.CrossfadeFrames,
		Codec:           hdr.Codec,
		ProducedAt:      hdr.ProducedAt,
		Tier:            TierFull,
		Size:            int64(len(payload)),
	}, nil
}

// Put writes a chunk atomically: temp file first, then rename, so a crash
// mid-write never leaves a half-written entry under the final name.
func (d *DiskStore) Put(entry *Entry, sig track.Signature) error {
	hdr := diskHeader{
		Signature:       sig.String(),
		SampleCount:     entry.SampleCount,
		CrossfadeFrames: entry.CrossfadeFrames,
		Codec:           entry.Codec,
		ProducedAt:      entry.ProducedAt,
	}
	raw, err := d.encode(hdr, entry.Bytes)
	if err != nil {
		return err
	}

	final := d.path(entry.Key)
	tmp, err := os.CreateTemp(d.dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("cache: temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: write %s: %w", entry.Key.String(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: close %s: %w", entry.Key.String(), err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: rename %s: %w", entry.Key.String(), err)
	}
	return nil
}

// InvalidateTrack removes every persisted chunk of a track.
func (d *DiskStore) InvalidateTrack(trackID string) error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("cache: read dir: %w", err)
	}
	prefix := track.SanitizeID(trackID) + "__"
	var firstErr error
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, diskExt) {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, name)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Keys scans the directory and reports every recoverable chunk key. Startup
// uses this to learn what survived a restart without reading payloads.
func (d *DiskStore) Keys() ([]track.ChunkKey, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("cache: read dir: %w", err)
	}
	keys := make([]track.ChunkKey, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, diskExt) {
			continue
		}
		key, err := track.ParseChunkKey(strings.TrimSuffix(name, diskExt))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// encode lays out magic, a length-prefixed JSON header, then the
// zstd-compressed payload.
func (d *DiskStore) encode(hdr diskHeader, payload []byte) ([]byte, error) {
	meta, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("cache: marshal header: %w", err)
	}
	if len(meta) > 0xFFFF {
		return nil, fmt.Errorf("cache: header too large: %d bytes", len(meta))
	}
	compressed := d.encoder.EncodeAll(payload, nil)

	out := make([]byte, 0, len(diskMagic)+2+len(meta)+len(compressed))
	out = append(out, diskMagic...)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(meta)))
	out = append(out, meta...)
	out = append(out, compressed...)
	return out, nil
}

func (d *DiskStore) decode(raw []byte) (diskHeader, []byte, error) {
	var hdr diskHeader
	if len(raw) < len(diskMagic)+2 || string(raw[:len(diskMagic)]) != diskMagic {
		return hdr, nil, errCorruptFile
	}
	raw = raw[len(diskMagic):]
	metaLen := int(binary.LittleEndian.Uint16(raw[:2]))
	raw = raw[2:]
	if len(raw) < metaLen {
		return hdr, nil, errCorruptFile
	}
	if err := json.Unmarshal(raw[:metaLen], &hdr); err != nil {
		return hdr, nil, errCorruptFile
	}
	payload, err := d.decoder.DecodeAll(raw[metaLen:], nil)
	if err != nil {
		return hdr, nil, errCorruptFile
	}
	return hdr, payload, nil
}
