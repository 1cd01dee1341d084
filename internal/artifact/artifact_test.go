package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBytecode = "0x600a600c600039600a6000f3602a60005260206000f3"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBytecode_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain string", input: `"0x6080"`, want: "0x6080"},
		{name: "object form", input: `{"object": "0x6080", "sourceMap": ""}`, want: "0x6080"},
		{name: "number", input: `42`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Bytecode
			err := json.Unmarshal([]byte(tt.input), &b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.String())
		})
	}
}

func TestBytecode_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(NewBytecode("0x6080"))
	require.NoError(t, err)
	assert.JSONEq(t, `"0x6080"`, string(data))
}

func TestBytecode_Bytes(t *testing.T) {
	t.Run("decodes with and without prefix", func(t *testing.T) {
		a, err := NewBytecode("0x6080").Bytes()
		require.NoError(t, err)
		b, err := NewBytecode("6080").Bytes()
		require.NoError(t, err)
		assert.Equal(t, []byte{0x60, 0x80}, a)
		assert.Equal(t, a, b)
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := NewBytecode("0x").Bytes()
		assert.ErrorContains(t, err, "empty bytecode")
	})

	t.Run("rejects unlinked libraries", func(t *testing.T) {
		_, err := NewBytecode("0x6080__$1234567890abcdef$__6080").Bytes()
		assert.ErrorContains(t, err, "unlinked")
	})

	t.Run("rejects bad hex", func(t *testing.T) {
		_, err := NewBytecode("0x60zz").Bytes()
		assert.Error(t, err)
	})
}

func TestContractArtifact_ParseABI(t *testing.T) {
	a, err := NewDirSource("testdata/hardhat").Load(context.Background(), "StakingPool")
	require.NoError(t, err)

	parsed, err := a.ParseABI()
	require.NoError(t, err)
	assert.Len(t, parsed.Constructor.Inputs, 4)
	assert.Contains(t, parsed.Methods, "withdrawalPeriod")

	empty := &ContractArtifact{ContractName: "Empty"}
	_, err = empty.ParseABI()
	assert.ErrorContains(t, err, "no ABI")
}

func TestDirSource_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("hardhat layout", func(t *testing.T) {
		a, err := NewDirSource("testdata/hardhat").Load(ctx, "StakingPool")
		require.NoError(t, err)
		assert.Equal(t, "StakingPool", a.ContractName)
		assert.Equal(t, "contracts/StakingPool.sol", a.SourceName)
		assert.Equal(t, testBytecode, a.Bytecode.String())
	})

	t.Run("foundry layout fills contract name", func(t *testing.T) {
		a, err := NewDirSource("testdata/foundry").Load(ctx, "StakingPool")
		require.NoError(t, err)
		assert.Equal(t, "StakingPool", a.ContractName)
		assert.Equal(t, testBytecode, a.Bytecode.String())
	})

	t.Run("nested source directories", func(t *testing.T) {
		a, err := NewDirSource("testdata/hardhat").Load(ctx, "GapeCoin")
		require.NoError(t, err)
		assert.Equal(t, "contracts/tokens/GapeCoin.sol", a.SourceName)
	})

	t.Run("flat directory", func(t *testing.T) {
		dir := t.TempDir()
		raw := fmt.Sprintf(`{"contractName":"StakingPool","abi":[],"bytecode":%q}`, testBytecode)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "StakingPool.json"), []byte(raw), 0o644))

		a, err := NewDirSource(dir).Load(ctx, "StakingPool")
		require.NoError(t, err)
		assert.Equal(t, testBytecode, a.Bytecode.String())
	})

	t.Run("unknown artifact", func(t *testing.T) {
		_, err := NewDirSource("testdata/hardhat").Load(ctx, "Missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := NewDirSource("testdata/hardhat").Load(ctx, "")
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Broken.json"), []byte(`{not json`), 0o644))

		_, err := NewDirSource(dir).Load(ctx, "Broken")
		assert.ErrorContains(t, err, "parse artifact Broken")
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewDirSource("testdata/hardhat").Load(cctx, "StakingPool")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// buildBundle zips the hardhat testdata tree the way a CI job would publish it.
func buildBundle(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	root := "testdata/hardhat"
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func checksumOf(data []byte) string {
	return fmt.Sprintf("sha256:%x", sha256.Sum256(data))
}

func TestBundleSource_Load(t *testing.T) {
	ctx := context.Background()
	bundle := buildBundle(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/artifacts.zip" {
			http.NotFound(w, r)
			return
		}
		w.Write(bundle)
	}))
	defer srv.Close()

	t.Run("downloads once and serves all artifacts", func(t *testing.T) {
		hits.Store(0)
		src := NewBundleSource(BundleConfig{
			URL:      srv.URL + "/artifacts.zip",
			Checksum: checksumOf(bundle),
		}, testLogger())

		a, err := src.Load(ctx, "StakingPool")
		require.NoError(t, err)
		assert.Equal(t, testBytecode, a.Bytecode.String())

		b, err := src.Load(ctx, "GapeCoin")
		require.NoError(t, err)
		assert.Equal(t, "GapeCoin", b.ContractName)

		assert.Equal(t, int32(1), hits.Load())
		assert.ElementsMatch(t, []string{"StakingPool", "GapeCoin", "IStakingPool"}, src.Names())
	})

	t.Run("skips verification without checksum", func(t *testing.T) {
		src := NewBundleSource(BundleConfig{URL: srv.URL + "/artifacts.zip"}, testLogger())
		_, err := src.Load(ctx, "StakingPool")
		assert.NoError(t, err)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		src := NewBundleSource(BundleConfig{
			URL:      srv.URL + "/artifacts.zip",
			Checksum: "sha256:0000000000000000000000000000000000000000000000000000000000000000",
		}, testLogger())

		_, err := src.Load(ctx, "StakingPool")
		assert.ErrorContains(t, err, "checksum mismatch")
	})

	t.Run("unknown artifact", func(t *testing.T) {
		src := NewBundleSource(BundleConfig{URL: srv.URL + "/artifacts.zip"}, testLogger())
		_, err := src.Load(ctx, "Missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("http error", func(t *testing.T) {
		src := NewBundleSource(BundleConfig{URL: srv.URL + "/missing.zip"}, testLogger())
		_, err := src.Load(ctx, "StakingPool")
		assert.ErrorContains(t, err, "status 404")
	})

	t.Run("oversized bundle", func(t *testing.T) {
		src := NewBundleSource(BundleConfig{
			URL:     srv.URL + "/artifacts.zip",
			MaxSize: int64(len(bundle) - 1),
		}, testLogger())

		_, err := src.Load(ctx, "StakingPool")
		assert.ErrorContains(t, err, fmt.Sprintf("artifact bundle exceeds %d bytes", len(bundle)-1))
		assert.Empty(t, src.Names())
	})

	t.Run("bundle at size limit", func(t *testing.T) {
		src := NewBundleSource(BundleConfig{
			URL:     srv.URL + "/artifacts.zip",
			MaxSize: int64(len(bundle)),
		}, testLogger())

		_, err := src.Load(ctx, "StakingPool")
		assert.NoError(t, err)
	})

	t.Run("missing url", func(t *testing.T) {
		src := NewBundleSource(BundleConfig{}, nil)
		_, err := src.Load(ctx, "StakingPool")
		assert.Error(t, err)
		assert.Empty(t, src.Names())
	})
}

func TestVerifyChecksum(t *testing.T) {
	data := []byte("stakepool")
	sum := checksumOf(data)

	assert.NoError(t, VerifyChecksum(data, ""))
	assert.NoError(t, VerifyChecksum(data, sum))
	assert.Error(t, VerifyChecksum(data, "md5:abc"))
	assert.Error(t, VerifyChecksum([]byte("tampered"), sum))
}

func TestParseZip_Empty(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("README.md")
	require.NoError(t, err)
	w.Write([]byte("no artifacts here"))
	require.NoError(t, zw.Close())

	_, err = parseZip(buf.Bytes())
	assert.ErrorContains(t, err, "no artifacts")

	_, err = parseZip([]byte("not a zip"))
	assert.ErrorContains(t, err, "open zip")
}
