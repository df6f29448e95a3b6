package etl

import (
	"bufio"
	"context"
	"os"
	"os/exec"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var commandContext = exec.CommandContext

// convertXML runs the external XML-to-CSV converter over the raw dump.
type convertXML struct {
	deps
	filtered bool
}

func (s *convertXML) Name() string { return StepConvertXML }

func (s *convertXML) Run(ctx context.Context, env *Env) (*Result, error) {
	p := env.Config.Pipeline
	if _, err := os.Stat(p.XMLPath); err != nil {
		return nil, eris.Wrapf(err, "convert: xml dump %s", p.XMLPath)
	}
	out := p.CSVDir
	if s.filtered {
		out = RawDir(p.CSVDir)
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, eris.Wrapf(err, "convert: mkdir %s", out)
	}

	log := zap.L().With(zap.String("step", StepConvertXML), zap.String("converter", p.ConverterPath))
	args := []string{"--export", "release", "--output", out, p.XMLPath}
	cmd := commandContext(ctx, p.ConverterPath, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, eris.Wrap(err, "convert: stdout pipe")
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, eris.Wrapf(err, "convert: start %s", p.ConverterPath)
	}

	var last string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		last = scanner.Text()
		log.Info(last)
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return nil, eris.Wrap(err, "convert: read converter output")
	}
	if err := cmd.Wait(); err != nil {
		return nil, eris.Wrapf(err, "convert: converter failed: %s", last)
	}
	return &Result{Metadata: map[string]any{"output": out}}, nil
}
