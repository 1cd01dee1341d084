package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// RemoteSignerConfig configures a signer that delegates to an
// eth_signTransaction JSON-RPC endpoint (Clef, web3signer, POPSigner).
type RemoteSignerConfig struct {
	// Endpoint is the JSON-RPC URL of the signing service.
	Endpoint string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Address is the account the service signs for.
	Address common.Address
	// ChainID is the chain ID for EIP-155 signing.
	ChainID *big.Int

	MaxRetries     int           // default: 3
	InitialBackoff time.Duration // default: 1s
	MaxBackoff     time.Duration // default: 10s
	Timeout        time.Duration // per request, default: 30s

	HTTPClient *http.Client
}

// RemoteSigner implements TransactionSigner over HTTP JSON-RPC.
type RemoteSigner struct {
	config     RemoteSignerConfig
	httpClient *http.Client
}

// NewRemoteSigner creates a new RemoteSigner.
func NewRemoteSigner(cfg RemoteSignerConfig) (*RemoteSigner, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote signer endpoint is required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("remote signer address is required")
	}
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("remote signer chain ID is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &RemoteSigner{
		config:     cfg,
		httpClient: httpClient,
	}, nil
}

// Address returns the signer's address.
func (s *RemoteSigner) Address() common.Address {
	return s.config.Address
}

// ChainID returns the chain ID for signing.
func (s *RemoteSigner) ChainID() *big.Int {
	return s.config.ChainID
}

// SignTransaction asks the remote service to sign tx. Transport failures,
// 5xx responses and JSON-RPC server errors are retried with exponential
// backoff; everything else fails immediately.
func (s *RemoteSigner) SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_signTransaction",
		Params:  []any{s.buildTransactionArgs(tx)},
		ID:      1,
	}

	var lastErr error
	backoff := s.config.InitialBackoff

	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, s.config.MaxBackoff)
		}

		signedHex, err := s.call(ctx, req)
		if err != nil {
			lastErr = err
			if !IsRetryable(err) {
				return nil, fmt.Errorf("remote signing failed: %w", err)
			}
			continue
		}

		signed, err := decodeSignedTransaction(signedHex)
		if err != nil {
			return nil, fmt.Errorf("decode signed transaction: %w", err)
		}
		if signed.Hash() == tx.Hash() {
			return nil, fmt.Errorf("remote signer returned an unsigned transaction")
		}
		return signed, nil
	}

	return nil, fmt.Errorf("remote signing failed after %d attempts: %w", s.config.MaxRetries, lastErr)
}

func (s *RemoteSigner) buildTransactionArgs(tx *types.Transaction) txArgs {
	args := txArgs{
		From:    s.config.Address.Hex(),
		Gas:     hexutil.EncodeUint64(tx.Gas()),
		Value:   hexutil.EncodeBig(tx.Value()),
		Nonce:   hexutil.EncodeUint64(tx.Nonce()),
		ChainID: hexutil.EncodeBig(s.config.ChainID),
	}

	// nil for contract creation
	if tx.To() != nil {
		to := tx.To().Hex()
		args.To = &to
	}
	if len(tx.Data()) > 0 {
		args.Data = hexutil.Encode(tx.Data())
	}

	switch tx.Type() {
	case types.DynamicFeeTxType:
		maxFee := hexutil.EncodeBig(tx.GasFeeCap())
		maxTip := hexutil.EncodeBig(tx.GasTipCap())
		args.MaxFeePerGas = &maxFee
		args.MaxPriorityFeePerGas = &maxTip
	default:
		gasPrice := hexutil.EncodeBig(tx.GasPrice())
		args.GasPrice = &gasPrice
	}

	return args
}

func (s *RemoteSigner) call(ctx context.Context, rpcReq rpcRequest) (string, error) {
	reqBody, err := json.Marshal(rpcReq)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", &RetryableError{Err: fmt.Errorf("http request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RetryableError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return "", &RetryableError{Err: fmt.Errorf("server error: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("client error: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		rpcErr := fmt.Errorf("JSON-RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
		if isRetryableRPCCode(rpcResp.Error.Code) {
			return "", &RetryableError{Err: rpcErr}
		}
		return "", rpcErr
	}

	var signedHex string
	if err := json.Unmarshal(rpcResp.Result, &signedHex); err != nil {
		return "", fmt.Errorf("unmarshal result: %w", err)
	}
	return signedHex, nil
}

// decodeSignedTransaction decodes a hex encoded, RLP or typed-envelope
// signed transaction.
func decodeSignedTransaction(hexEncoded string) (*types.Transaction, error) {
	raw, err := hexutil.Decode("0x" + strings.TrimPrefix(hexEncoded, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return &tx, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type txArgs struct {
	From                 string  `json:"from"`
	To                   *string `json:"to,omitempty"`
	Gas                  string  `json:"gas"`
	GasPrice             *string `json:"gasPrice,omitempty"`
	MaxFeePerGas         *string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *string `json:"maxPriorityFeePerGas,omitempty"`
	Value                string  `json:"value"`
	Nonce                string  `json:"nonce"`
	Data                 string  `json:"data,omitempty"`
	ChainID              string  `json:"chainId"`
}

// RetryableError marks a signing failure that may succeed on retry.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err wraps a RetryableError.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// -32000 to -32099 are implementation-defined server errors.
func isRetryableRPCCode(code int) bool {
	return code >= -32099 && code <= -32000
}

var _ TransactionSigner = (*RemoteSigner)(nil)
