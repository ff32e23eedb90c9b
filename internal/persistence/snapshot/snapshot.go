package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version     int    `json:"version"`
	ZoneID      string `json:"zone_id"`
	Seq         uint64 `json:"seq"`
	CreatedUnix int64  `json:"created_unix"`
	Objects     int    `json:"objects"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	DiscoveryRadius     float64 `json:"discovery_radius"`
	ArrangementFallback string  `json:"arrangement_fallback"`
	TemplatesDigest     string  `json:"templates_digest,omitempty"`
	NextID              uint64  `json:"next_id"`

	// Objects are ordered parents first.
	Objects []ObjectV1 `json:"objects"`
}

type ObjectV1 struct {
	ID         uint64            `json:"id"`
	Template   string            `json:"template"`
	Kind       string            `json:"kind"`
	Name       string            `json:"name,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`

	Terrain string  `json:"terrain"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	Heading float64 `json:"heading"`

	Parent      uint64 `json:"parent,omitempty"`
	Arrangement int    `json:"arrangement"`

	Volume     int     `json:"volume"`
	Capacity   int     `json:"capacity,omitempty"`
	LoadRange  float64 `json:"load_range,omitempty"`
	Counter    int     `json:"counter,omitempty"`
	MaxCounter int     `json:"max_counter,omitempty"`

	Permissions  string     `json:"permissions,omitempty"`
	Slots        []string   `json:"slots,omitempty"`
	Arrangements [][]string `json:"arrangements,omitempty"`

	// Custom lists forced awareness partners.
	Custom []uint64 `json:"custom,omitempty"`
}

// WriteSnapshot writes a zstd stream holding one JSON header line followed by the gob
// encoded snapshot. The file is written next to path and renamed into place.
func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	snap.Header.Version = Version
	snap.Header.Objects = len(snap.Objects)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is repeated inside the gob body.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
