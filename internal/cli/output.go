package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"gopkg.in/yaml.v3"

	"github.com/Bidon15/stakepool-deployer/internal/deployment"
	"github.com/Bidon15/stakepool-deployer/internal/repository"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const timeLayout = "2006-01-02 15:04:05"

func validFormat(f string) bool {
	switch f {
	case FormatText, FormatJSON, FormatYAML:
		return true
	}
	return false
}

// printer renders command results to stdout and diagnostics to stderr.
type printer struct {
	out    io.Writer
	errOut io.Writer
	format string

	success func(format string, a ...any) string
	failure func(format string, a ...any) string
	faint   func(format string, a ...any) string
}

// newPrinter disables color when asked to, when NO_COLOR is set, or when
// out is not a terminal.
func newPrinter(out, errOut io.Writer, format string, noColor bool) *printer {
	p := &printer{out: out, errOut: errOut, format: format}

	if noColor || hasNoColorEnv() || !isTerminal(out) {
		plain := func(format string, a ...any) string { return fmt.Sprintf(format, a...) }
		p.success, p.failure, p.faint = plain, plain, plain
		return p
	}

	p.success = color.New(color.FgGreen).SprintfFunc()
	p.failure = color.New(color.FgRed).SprintfFunc()
	p.faint = color.New(color.FgHiBlack).SprintfFunc()
	return p
}

// isTerminal checks if w is a character device.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// See: https://no-color.org/
func hasNoColorEnv() bool {
	return os.Getenv("NO_COLOR") != ""
}

// Error prints err in red to stderr.
func (p *printer) Error(err error) {
	fmt.Fprintln(p.errOut, p.failure("Error: %v", err))
}

// Progress prints stage transitions to stderr in text mode. Machine
// formats keep stderr for logs only.
func (p *printer) Progress(stage deployment.Stage, message string) {
	if p.format != FormatText {
		return
	}
	if stage == deployment.StageFailed {
		fmt.Fprintln(p.errOut, p.failure("[%s] %s", stage, message))
		return
	}
	fmt.Fprintln(p.errOut, p.faint("[%s] %s", stage, message))
}

// deploymentReport is the machine-readable form of a confirmed deployment.
type deploymentReport struct {
	RunID            string    `json:"run_id" yaml:"run_id"`
	Artifact         string    `json:"artifact" yaml:"artifact"`
	Address          string    `json:"address" yaml:"address"`
	TxHash           string    `json:"tx_hash" yaml:"tx_hash"`
	BlockNumber      uint64    `json:"block_number" yaml:"block_number"`
	GasUsed          uint64    `json:"gas_used" yaml:"gas_used"`
	ChainID          string    `json:"chain_id" yaml:"chain_id"`
	RewardRate       uint64    `json:"reward_rate" yaml:"reward_rate"`
	WithdrawalPeriod uint64    `json:"withdrawal_period" yaml:"withdrawal_period"`
	VaultAddress     string    `json:"vault_address" yaml:"vault_address"`
	TokenAddress     string    `json:"token_address" yaml:"token_address"`
	StartedAt        time.Time `json:"started_at" yaml:"started_at"`
	ConfirmedAt      time.Time `json:"confirmed_at" yaml:"confirmed_at"`
	DurationSeconds  float64   `json:"duration_seconds" yaml:"duration_seconds"`
}

func newDeploymentReport(r *deployment.Result, chainID *big.Int) deploymentReport {
	report := deploymentReport{
		RunID:            r.RunID,
		Artifact:         r.Artifact,
		Address:          r.Address.Hex(),
		TxHash:           r.TxHash.Hex(),
		BlockNumber:      r.BlockNumber,
		GasUsed:          r.GasUsed,
		RewardRate:       r.Config.RewardRate,
		WithdrawalPeriod: r.Config.WithdrawalPeriod,
		VaultAddress:     r.Config.VaultAddress.Hex(),
		TokenAddress:     r.Config.TokenAddress.Hex(),
		StartedAt:        r.StartedAt,
		ConfirmedAt:      r.ConfirmedAt,
		DurationSeconds:  r.Duration().Seconds(),
	}
	if chainID != nil {
		report.ChainID = chainID.String()
	}
	return report
}

// Deployment prints a confirmed deployment.
func (p *printer) Deployment(r *deployment.Result, chainID *big.Int) error {
	report := newDeploymentReport(r, chainID)
	if p.format != FormatText {
		return p.encode(report)
	}

	fmt.Fprintln(p.out, p.success("%s deployed to: %s", r.Artifact, report.Address))

	table, err := renderTable(nil, [][]string{
		{"Run ID", report.RunID},
		{"Transaction", report.TxHash},
		{"Block", strconv.FormatUint(report.BlockNumber, 10)},
		{"Gas Used", strconv.FormatUint(report.GasUsed, 10)},
		{"Chain ID", report.ChainID},
		{"Reward Rate", strconv.FormatUint(report.RewardRate, 10)},
		{"Withdrawal Period", r.Config.WithdrawalDuration().String()},
		{"Vault", report.VaultAddress},
		{"Token", report.TokenAddress},
		{"Duration", r.Duration().Round(time.Millisecond).String()},
	})
	if err != nil {
		return fmt.Errorf("printing deployment details: %w", err)
	}
	fmt.Fprint(p.out, table)
	return nil
}

// validationReport is the machine-readable form of a successful validate.
type validationReport struct {
	Valid            bool   `json:"valid" yaml:"valid"`
	Artifact         string `json:"artifact" yaml:"artifact"`
	ArtifactSource   string `json:"artifact_source" yaml:"artifact_source"`
	RewardRate       uint64 `json:"reward_rate" yaml:"reward_rate"`
	WithdrawalPeriod uint64 `json:"withdrawal_period" yaml:"withdrawal_period"`
	VaultAddress     string `json:"vault_address" yaml:"vault_address"`
	TokenAddress     string `json:"token_address" yaml:"token_address"`
	RPCURL           string `json:"rpc_url" yaml:"rpc_url"`
}

// Validation prints a successful validation.
func (p *printer) Validation(report validationReport) error {
	if p.format != FormatText {
		return p.encode(report)
	}

	fmt.Fprintln(p.out, p.success("Configuration is valid"))
	table, err := renderTable(nil, [][]string{
		{"Artifact", report.Artifact},
		{"Artifact Source", report.ArtifactSource},
		{"Reward Rate", strconv.FormatUint(report.RewardRate, 10)},
		{"Withdrawal Period", (time.Duration(report.WithdrawalPeriod) * time.Second).String()},
		{"Vault", report.VaultAddress},
		{"Token", report.TokenAddress},
		{"RPC URL", report.RPCURL},
	})
	if err != nil {
		return fmt.Errorf("printing validation details: %w", err)
	}
	fmt.Fprint(p.out, table)
	return nil
}

// History prints recorded deployments.
func (p *printer) History(records []*repository.Record) error {
	if p.format != FormatText {
		if records == nil {
			records = []*repository.Record{}
		}
		return p.encode(records)
	}

	if len(records) == 0 {
		fmt.Fprintln(p.out, "No deployments recorded.")
		return nil
	}

	header := []string{"Run ID", "Artifact", "Chain", "Status", "Address", "Started At"}
	data := make([][]string, 0, len(records))
	for _, r := range records {
		status := string(r.Status)
		if r.FailedStage != nil {
			status += " (" + *r.FailedStage + ")"
		}
		data = append(data, []string{
			r.RunID,
			r.Artifact,
			strconv.FormatInt(r.ChainID, 10),
			status,
			deref(r.Address),
			r.StartedAt.Format(timeLayout),
		})
	}

	table, err := renderTable(header, data)
	if err != nil {
		return fmt.Errorf("printing history table: %w", err)
	}
	fmt.Fprint(p.out, table)
	return nil
}

// Record prints one recorded deployment.
func (p *printer) Record(r *repository.Record) error {
	if p.format != FormatText {
		return p.encode(r)
	}

	rows := [][]string{
		{"Run ID", r.RunID},
		{"Artifact", r.Artifact},
		{"Chain ID", strconv.FormatInt(r.ChainID, 10)},
		{"Status", string(r.Status)},
		{"Address", deref(r.Address)},
		{"Transaction", deref(r.TxHash)},
		{"Started At", r.StartedAt.Format(timeLayout)},
		{"Finished At", r.FinishedAt.Format(timeLayout)},
	}
	if r.BlockNumber != nil {
		rows = append(rows, []string{"Block", strconv.FormatInt(*r.BlockNumber, 10)})
	}
	if r.FailedStage != nil {
		rows = append(rows, []string{"Failed Stage", *r.FailedStage})
	}
	if r.ErrorMessage != nil {
		rows = append(rows, []string{"Error", *r.ErrorMessage})
	}

	table, err := renderTable(nil, rows)
	if err != nil {
		return fmt.Errorf("printing deployment record: %w", err)
	}
	fmt.Fprint(p.out, table)
	return nil
}

func (p *printer) encode(v any) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported output format %q", p.format)
}

func renderTable(header []string, data [][]string) (string, error) {
	buf := strings.Builder{}

	table := tablewriter.NewTable(
		&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines: tw.Lines{
					ShowHeaderLine: tw.Off,
				},
				Separators: tw.Separators{
					BetweenColumns: tw.Off,
				},
			},
		})),
	)

	if len(header) > 0 {
		table.Header(header)
	}

	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("bulk adding data to table: %w", err)
	}

	if err := table.Render(); err != nil {
		return "", fmt.Errorf("rendering table: %w", err)
	}

	return buf.String(), nil
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
