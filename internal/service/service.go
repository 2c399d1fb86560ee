// Package service is the boundary the transport layer consumes: it maps
// the external operations onto the catalog, registry and dispatcher.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inferd/internal/catalog"
	"inferd/internal/dispatch"
	"inferd/internal/metrics"
	"inferd/internal/registry"
	"inferd/pkg/types"
)

// Options carries the service-level settings.
type Options struct {
	// DefaultModel fills in requests that omit a model name.
	DefaultModel string
	// DefaultVersion fills in requests that omit a version.
	DefaultVersion string
	// Version is reported by the health endpoint.
	Version string
	// PreloadDefault loads the default model at startup.
	PreloadDefault bool
}

// Service wires the serving core together behind the external interface.
type Service struct {
	cat   *catalog.Catalog
	reg   *registry.Registry
	disp  *dispatch.Dispatcher
	agg   *metrics.Aggregator
	log   zerolog.Logger
	opts  Options
	start time.Time
}

// New constructs the service facade.
func New(cat *catalog.Catalog, reg *registry.Registry, disp *dispatch.Dispatcher, agg *metrics.Aggregator, opts Options, log zerolog.Logger) *Service {
	if opts.DefaultVersion == "" {
		opts.DefaultVersion = "v1"
	}
	return &Service{cat: cat, reg: reg, disp: disp, agg: agg, log: log, opts: opts, start: time.Now()}
}

// Start preloads the default model when configured. A preload failure is
// logged, not fatal: the model can still be loaded on first use.
func (s *Service) Start(ctx context.Context) {
	if !s.opts.PreloadDefault || s.opts.DefaultModel == "" {
		return
	}
	key := types.Key(s.opts.DefaultModel, s.opts.DefaultVersion)
	if _, err := s.reg.EnsureReady(ctx, key); err != nil {
		s.log.Warn().Stringer("model", key).Err(err).Msg("default model preload failed")
		return
	}
	s.log.Info().Stringer("model", key).Msg("default model preloaded")
}

// Shutdown drains the dispatcher, then unloads every ready model.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.disp.Close(ctx)
	s.reg.UnloadAll()
	return err
}

func (s *Service) resolveKey(model, version string) types.ModelKey {
	if model == "" {
		model = s.opts.DefaultModel
	}
	if version == "" {
		version = s.opts.DefaultVersion
	}
	return types.Key(model, version)
}

// ListModels returns every catalogued model with its current state.
func (s *Service) ListModels() types.ModelsResponse {
	sts := s.reg.ListStatus()
	models := make([]types.ModelInfo, 0, len(sts))
	for _, st := range sts {
		mi := types.ModelInfo{
			Name:        st.Descriptor.Key.Name,
			Version:     st.Descriptor.Key.Version,
			Type:        string(st.Descriptor.Type),
			Description: st.Descriptor.Description,
			ModelRef:    st.Descriptor.ModelRef,
			State:       string(st.State),
			Parameters:  st.Descriptor.Parameters,
		}
		if st.Err != nil {
			mi.Error = st.Err.Error()
		}
		models = append(models, mi)
	}
	return types.ModelsResponse{Models: models}
}

// LoadModel brings a model into memory (or reports why it cannot).
func (s *Service) LoadModel(ctx context.Context, name, version string) (types.ModelOpResponse, error) {
	key := s.resolveKey(name, version)
	if _, err := s.reg.EnsureReady(ctx, key); err != nil {
		st, _ := s.reg.Status(key)
		return types.ModelOpResponse{Model: key.String(), State: string(st)}, err
	}
	return types.ModelOpResponse{Model: key.String(), State: string(registry.StateReady)}, nil
}

// UnloadModel releases a model. Unloading an unloaded model is a no-op.
func (s *Service) UnloadModel(name, version string) (types.ModelOpResponse, error) {
	key := s.resolveKey(name, version)
	st, err := s.reg.Unload(key)
	return types.ModelOpResponse{Model: key.String(), State: string(st)}, err
}

// Infer submits one request and waits for its resolution. Errors raised
// before the request enters a queue (unknown model, backpressure,
// shutdown) surface as errors; failures of the dispatched request itself
// are reported in-band with Success=false, matching the serving contract.
func (s *Service) Infer(ctx context.Context, req types.InferRequest) (types.InferResponse, error) {
	key := s.resolveKey(req.Model, req.Version)
	fut, err := s.disp.Submit(ctx, key, req.Text, req.Parameters)
	if err != nil {
		return types.InferResponse{}, err
	}
	res, err := fut.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		return types.InferResponse{}, err
	}
	return s.buildResponse(key, res, err), nil
}

// InferBatch submits every request before waiting on any of them, so the
// whole HTTP batch can share dispatcher batch windows. Results correspond
// positionally; each element succeeds or fails independently.
func (s *Service) InferBatch(ctx context.Context, batch types.BatchInferRequest) []types.InferResponse {
	type submitted struct {
		fut *dispatch.Future
		key types.ModelKey
		err error
	}
	subs := make([]submitted, len(batch.Requests))
	for i, req := range batch.Requests {
		key := s.resolveKey(req.Model, req.Version)
		fut, err := s.disp.Submit(ctx, key, req.Text, req.Parameters)
		subs[i] = submitted{fut: fut, key: key, err: err}
	}
	out := make([]types.InferResponse, len(subs))
	for i, sub := range subs {
		if sub.err != nil {
			out[i] = types.InferResponse{
				Success:   false,
				ModelUsed: sub.key.String(),
				RequestID: uuid.NewString(),
				Timestamp: time.Now().UTC(),
				Error:     sub.err.Error(),
			}
			continue
		}
		res, err := sub.fut.Wait(ctx)
		out[i] = s.buildResponse(sub.key, res, err)
	}
	return out
}

func (s *Service) buildResponse(key types.ModelKey, res dispatch.Result, err error) types.InferResponse {
	resp := types.InferResponse{
		Success:   err == nil,
		Result:    res.Output,
		ModelUsed: key.String(),
		LatencyMS: float64(res.Latency.Microseconds()) / 1000.0,
		RequestID: res.RequestID,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Result = ""
		return resp
	}
	if d, ok := s.cat.Get(key); ok {
		resp.Metadata = map[string]any{"model_type": string(d.Type)}
	}
	return resp
}

// Metrics returns the aggregator snapshot.
func (s *Service) Metrics() types.MetricsResponse {
	return s.agg.Snapshot()
}

// Health reports liveness details for GET /health.
func (s *Service) Health() types.HealthResponse {
	keys := s.reg.LoadedKeys()
	loaded := make([]string, 0, len(keys))
	for _, k := range keys {
		loaded = append(loaded, k.String())
	}
	return types.HealthResponse{
		Status:        "healthy",
		Version:       s.opts.Version,
		Timestamp:     time.Now().UTC(),
		ModelsLoaded:  loaded,
		UptimeSeconds: time.Since(s.start).Seconds(),
	}
}

// Ready reports whether at least one model is loaded.
func (s *Service) Ready() bool {
	return len(s.reg.LoadedKeys()) > 0
}
