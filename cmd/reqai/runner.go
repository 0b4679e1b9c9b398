package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/reqai/internal/dispatch"
	"github.com/hyperjump/reqai/internal/export"
	"github.com/hyperjump/reqai/pkg/utils"
	"go.uber.org/zap"
)

// runner executes dispatcher commands, either through a running server or
// against the record store in process.
type runner interface {
	Run(ctx context.Context, cmd dispatch.Command) (*dispatch.Result, error)
	Export(ctx context.Context, w io.Writer) error
	Close()
}

func newRunner(opts *rootOptions) (runner, error) {
	if opts.serverURL != "" {
		return newRemoteRunner(opts.serverURL), nil
	}
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || opts.debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &localRunner{comps: comps, logger: logger}, nil
}

// remoteRunner posts commands to the server's command endpoint.
type remoteRunner struct {
	baseURL string
	client  *http.Client
}

func newRemoteRunner(baseURL string) *remoteRunner {
	return &remoteRunner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// remoteBody decodes both a Result and the {"error": ...} body of a failed command.
type remoteBody struct {
	dispatch.Result
	Error string `json:"error"`
}

func (r *remoteRunner) Run(ctx context.Context, cmd dispatch.Command) (*dispatch.Result, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/v1/commands", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var out remoteBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("server returned %d: decode response: %w", resp.StatusCode, err)
	}
	res := out.Result
	if resp.StatusCode >= http.StatusBadRequest {
		res.Command = cmd.Name
		res.OK = false
		res.Message = out.Error
		res.Err = fmt.Errorf("server returned %d: %s", resp.StatusCode, out.Error)
	}
	return &res, nil
}

// Export triggers the export command and downloads the workbook from the
// location it names.
func (r *remoteRunner) Export(ctx context.Context, w io.Writer) error {
	res, err := r.Run(ctx, dispatch.Command{Name: dispatch.CmdExport})
	if err != nil {
		return err
	}
	if !res.OK {
		return errors.New(res.Message)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+res.Location, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (r *remoteRunner) Close() {}

// localRunner dispatches in process. Without a server there is no background
// to finish a build in, so search and reindex wait for the index.
type localRunner struct {
	comps  *Components
	logger *zap.Logger
}

func (r *localRunner) Run(ctx context.Context, cmd dispatch.Command) (*dispatch.Result, error) {
	// loading the collection starts a build; let it settle so reindex is not busy
	if cmd.Name == dispatch.CmdSearch || cmd.Name == dispatch.CmdReindex {
		if err := r.comps.WaitIndex(ctx); err != nil {
			r.logger.Debug("index warmup failed", zap.Error(err))
		}
	}
	res := r.comps.Dispatcher.Dispatch(ctx, cmd)
	if cmd.Name == dispatch.CmdReindex && res.OK {
		r.comps.Indexer.Wait()
		st := r.comps.Indexer.Status()
		res.Index = &st
		if st.LastError != "" {
			res.OK = false
			res.Message = "Reindex failed: " + st.LastError
		} else {
			res.Message = fmt.Sprintf("Reindexed %d %s records.", st.Records, st.EntityType)
		}
	}
	return res, nil
}

func (r *localRunner) Export(ctx context.Context, w io.Writer) error {
	return export.Write(ctx, w, r.comps.Store)
}

func (r *localRunner) Close() {
	r.comps.Close()
	_ = r.logger.Sync()
}
