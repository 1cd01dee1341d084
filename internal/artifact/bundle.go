package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"
)

// BundleConfig configures a remote artifact bundle.
type BundleConfig struct {
	// URL points at a zip archive of compiler output JSON files.
	URL string
	// Checksum is the expected "sha256:<hex>" digest of the archive.
	// An empty checksum disables verification.
	Checksum string
	// HTTPClient overrides the client used to download. Optional.
	HTTPClient *http.Client
	// Timeout bounds the download (default: 60s).
	Timeout time.Duration
	// MaxSize caps the archive size in bytes (default: 64 MiB).
	MaxSize int64
}

// DefaultMaxBundleSize is the largest bundle downloaded by default.
const DefaultMaxBundleSize = 64 << 20

// BundleSource downloads a zip bundle once and serves artifacts from it.
type BundleSource struct {
	config BundleConfig
	logger *slog.Logger

	mu     sync.Mutex
	loaded map[string]*ContractArtifact
}

// NewBundleSource creates a new BundleSource.
func NewBundleSource(cfg BundleConfig, logger *slog.Logger) *BundleSource {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxBundleSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BundleSource{
		config: cfg,
		logger: logger,
	}
}

// URL returns the bundle location.
func (s *BundleSource) URL() string {
	return s.config.URL
}

// Load returns the named artifact, downloading the bundle on first use.
func (s *BundleSource) Load(ctx context.Context, name string) (*ContractArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded == nil {
		loaded, err := s.download(ctx)
		if err != nil {
			return nil, err
		}
		s.loaded = loaded
	}

	a, ok := s.loaded[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s in bundle %s", ErrNotFound, name, s.config.URL)
	}
	return a, nil
}

// Names returns the contract names contained in the bundle, or nil if it
// has not been downloaded yet.
func (s *BundleSource) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.loaded))
	for name := range s.loaded {
		names = append(names, name)
	}
	return names
}

func (s *BundleSource) download(ctx context.Context) (map[string]*ContractArtifact, error) {
	if s.config.URL == "" {
		return nil, fmt.Errorf("artifact bundle URL is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	s.logger.Info("downloading artifact bundle", slog.String("url", s.config.URL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d from %s", resp.StatusCode, s.config.URL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	if int64(len(data)) > s.config.MaxSize {
		return nil, fmt.Errorf("artifact bundle exceeds %d bytes", s.config.MaxSize)
	}

	// Verify before parsing so a tampered bundle is never decoded.
	if err := VerifyChecksum(data, s.config.Checksum); err != nil {
		return nil, fmt.Errorf("artifact integrity check failed: %w", err)
	}

	loaded, err := parseZip(data)
	if err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}

	s.logger.Info("artifact bundle loaded",
		slog.Int("artifacts", len(loaded)),
		slog.Int("bytes", len(data)),
	)
	return loaded, nil
}

// VerifyChecksum compares the sha256 of data against expected
// ("sha256:<hex>"). An empty expected value skips verification.
func VerifyChecksum(data []byte, expected string) error {
	if expected == "" {
		return nil
	}
	if !strings.HasPrefix(expected, "sha256:") {
		return fmt.Errorf("unsupported checksum format %q, expected sha256:<hex>", expected)
	}

	actual := fmt.Sprintf("sha256:%x", sha256.Sum256(data))
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// parseZip decodes every *.json compiler artifact in the archive, keyed by
// contract name. Hardhat debug files (*.dbg.json) and build-info are skipped.
func parseZip(data []byte) (map[string]*ContractArtifact, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	loaded := make(map[string]*ContractArtifact)
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if path.Ext(f.Name) != ".json" || strings.HasSuffix(f.Name, ".dbg.json") {
			continue
		}
		if strings.Contains(f.Name, "build-info/") {
			continue
		}

		contractName := strings.TrimSuffix(path.Base(f.Name), ".json")
		if _, dup := loaded[contractName]; dup {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}

		a, err := decode(contractName, raw)
		if err != nil {
			return nil, err
		}
		loaded[contractName] = a
	}

	if len(loaded) == 0 {
		return nil, fmt.Errorf("bundle contains no artifacts")
	}
	return loaded, nil
}

var _ Source = (*BundleSource)(nil)
