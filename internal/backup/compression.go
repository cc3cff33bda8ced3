package backup

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType names the algorithm an archive body is compressed with
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

var extensions = map[CompressionType]string{
	CompressionTypeGzip: ".gz",
	CompressionTypeLZ4:  ".lz4",
	CompressionTypeZstd: ".zst",
}

// Extension returns the storage key suffix for the algorithm
func (c CompressionType) Extension() string {
	return extensions[c]
}

// ParseCompressionType validates an algorithm name; empty means gzip
func ParseCompressionType(s string) (CompressionType, error) {
	c := CompressionType(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return CompressionTypeGzip, nil
	}
	if _, ok := extensions[c]; ok || c == CompressionTypeNone {
		return c, nil
	}
	return "", NewConfigurationError(fmt.Sprintf("unsupported compression algorithm: %s", s), nil)
}

// CompressionFromKey infers the algorithm from a storage key written by this package.
// Keys from before the algorithm was configurable end in .json.gz[.enc].
func CompressionFromKey(key string) CompressionType {
	key = strings.TrimSuffix(key, encryptedSuffix)
	for algorithm, ext := range extensions {
		if strings.HasSuffix(key, ext) {
			return algorithm
		}
	}
	return CompressionTypeNone
}

// CompressionStats describes one Compress call
type CompressionStats struct {
	OriginalSize     int64           `json:"original_size"`
	CompressedSize   int64           `json:"compressed_size"`
	CompressionRatio float64         `json:"compression_ratio"`
	Algorithm        CompressionType `json:"algorithm"`
	Level            int             `json:"level"`
	Duration         time.Duration   `json:"duration"`
}

// levelRange is the accepted level span of an algorithm; out-of-range
// levels, including 0, fall back to def
type levelRange struct {
	min, max, def int
}

func (r levelRange) clamp(level int) int {
	if level < r.min || level > r.max {
		return r.def
	}
	return level
}

type algorithmCodec struct {
	levels levelRange
	encode func(data []byte, level int) ([]byte, error)
	decode func(data []byte) ([]byte, error)
}

// CompressionManager compresses archive bodies with the registered algorithms
type CompressionManager struct {
	codecs map[CompressionType]algorithmCodec
}

// NewCompressionManager registers gzip, lz4 and zstd
func NewCompressionManager() *CompressionManager {
	return &CompressionManager{
		codecs: map[CompressionType]algorithmCodec{
			CompressionTypeGzip: {
				levels: levelRange{min: gzip.BestSpeed, max: gzip.BestCompression, def: gzip.DefaultCompression},
				encode: gzipEncode,
				decode: gzipDecode,
			},
			CompressionTypeLZ4: {
				levels: levelRange{min: 1, max: 12, def: 1},
				encode: lz4Encode,
				decode: lz4Decode,
			},
			CompressionTypeZstd: {
				levels: levelRange{min: 1, max: 22, def: 3},
				encode: zstdEncode,
				decode: zstdDecode,
			},
		},
	}
}

func (cm *CompressionManager) codec(algorithm CompressionType) (algorithmCodec, error) {
	codec, ok := cm.codecs[algorithm]
	if !ok {
		return algorithmCodec{}, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return codec, nil
}

// Compress compresses data; CompressionTypeNone returns it unchanged
func (cm *CompressionManager) Compress(data []byte, algorithm CompressionType, level int) ([]byte, *CompressionStats, error) {
	start := time.Now()
	out := data
	if algorithm != CompressionTypeNone {
		codec, err := cm.codec(algorithm)
		if err != nil {
			return nil, nil, err
		}
		level = codec.levels.clamp(level)
		if out, err = codec.encode(data, level); err != nil {
			return nil, nil, NewCompressionError(fmt.Sprintf("%s compression failed", algorithm), err)
		}
	} else {
		level = 0
	}

	return out, &CompressionStats{
		OriginalSize:     int64(len(data)),
		CompressedSize:   int64(len(out)),
		CompressionRatio: CalculateCompressionRatio(int64(len(data)), int64(len(out))),
		Algorithm:        algorithm,
		Level:            level,
		Duration:         time.Since(start),
	}, nil
}

// Decompress reverses Compress; a malformed stream yields ErrCorruptArchive
func (cm *CompressionManager) Decompress(data []byte, algorithm CompressionType) ([]byte, error) {
	if algorithm == CompressionTypeNone {
		return data, nil
	}
	codec, err := cm.codec(algorithm)
	if err != nil {
		return nil, err
	}

	out, err := codec.decode(data)
	if err != nil {
		return nil, NewCorruptArchiveError(fmt.Sprintf("malformed %s stream", algorithm), err)
	}
	return out, nil
}

// CalculateCompressionRatio returns compressed/original, 1.0 for empty input
func CalculateCompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}

func gzipEncode(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func lz4Encode(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if level > 6 {
		if err := w.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, err
		}
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decode(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

// zstd encoders are safe for concurrent EncodeAll, so one per speed is shared
var (
	zstdMu       sync.Mutex
	zstdEncoders = map[zstd.EncoderLevel]*zstd.Encoder{}
	zstdDecoder  *zstd.Decoder
)

func zstdSpeed(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 3:
		return zstd.SpeedDefault
	case level <= 6:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func zstdEncode(data []byte, level int) ([]byte, error) {
	speed := zstdSpeed(level)
	zstdMu.Lock()
	enc, ok := zstdEncoders[speed]
	if !ok {
		var err error
		if enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(speed)); err != nil {
			zstdMu.Unlock()
			return nil, err
		}
		zstdEncoders[speed] = enc
	}
	zstdMu.Unlock()
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func zstdDecode(data []byte) ([]byte, error) {
	zstdMu.Lock()
	if zstdDecoder == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			zstdMu.Unlock()
			return nil, err
		}
		zstdDecoder = dec
	}
	dec := zstdDecoder
	zstdMu.Unlock()
	return dec.DecodeAll(data, nil)
}
