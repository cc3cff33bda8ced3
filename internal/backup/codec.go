package backup

var (
	defaultCompression = NewCompressionManager()
	defaultEncryption  = NewEncryptionManager(DefaultKDFIterations)
)

// Compress gzips data at the default level
func Compress(data []byte) ([]byte, error) {
	out, _, err := defaultCompression.Compress(data, CompressionTypeGzip, 0)
	return out, err
}

// Decompress gunzips data; malformed input yields ErrCorruptArchive
func Decompress(data []byte) ([]byte, error) {
	return defaultCompression.Decompress(data, CompressionTypeGzip)
}

// Encrypt seals data with a key derived from password
func Encrypt(data []byte, password string) ([]byte, error) {
	out, _, err := defaultEncryption.Encrypt(data, password)
	return out, err
}

// Decrypt opens data sealed by Encrypt; failures yield ErrAuthenticationFailed
func Decrypt(data []byte, password string) ([]byte, error) {
	return defaultEncryption.Decrypt(data, password)
}

// SealedArchive is the stored form of a payload plus what is needed to open it again
type SealedArchive struct {
	Data             []byte
	Checksum         string
	Encrypted        bool
	Compression      CompressionType
	CompressionStats *CompressionStats
	EncryptionStats  *EncryptionStats
}

// Codec runs the compress -> encrypt -> checksum pipeline and its inverse
type Codec struct {
	compression *CompressionManager
	encryption  *EncryptionManager
	algorithm   CompressionType
	level       int
}

// NewCodec creates a codec for the given algorithm and level
func NewCodec(algorithm CompressionType, level int, kdfIterations int) *Codec {
	if algorithm == "" {
		algorithm = CompressionTypeGzip
	}
	return &Codec{
		compression: NewCompressionManager(),
		encryption:  NewEncryptionManager(kdfIterations),
		algorithm:   algorithm,
		level:       level,
	}
}

// Algorithm returns the compression algorithm new archives use
func (c *Codec) Algorithm() CompressionType {
	return c.algorithm
}

// Seal compresses and, when password is non-empty, encrypts. The checksum covers the final bytes.
func (c *Codec) Seal(plain []byte, password string) (*SealedArchive, error) {
	compressed, cstats, err := c.compression.Compress(plain, c.algorithm, c.level)
	if err != nil {
		return nil, err
	}

	archive := &SealedArchive{
		Data:             compressed,
		Compression:      c.algorithm,
		CompressionStats: cstats,
	}

	if password != "" {
		encrypted, estats, err := c.encryption.Encrypt(compressed, password)
		if err != nil {
			return nil, err
		}
		archive.Data = encrypted
		archive.Encrypted = true
		archive.EncryptionStats = estats
	}

	archive.Checksum = Checksum(archive.Data)
	return archive, nil
}

// Open reverses Seal for an archive stored with the given settings
func (c *Codec) Open(stored []byte, password string, encrypted bool, algorithm CompressionType) ([]byte, error) {
	data := stored
	if encrypted {
		plain, err := c.encryption.Decrypt(stored, password)
		if err != nil {
			return nil, err
		}
		data = plain
	}

	return c.compression.Decompress(data, algorithm)
}

// KeySuffix returns ".json" plus the compression and encryption suffixes
func KeySuffix(algorithm CompressionType, encrypted bool) string {
	suffix := ".json" + algorithm.Extension()
	if encrypted {
		suffix += encryptedSuffix
	}
	return suffix
}
