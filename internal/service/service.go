package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/arkilian/dissolve/internal/cache"
	"github.com/arkilian/dissolve/internal/config"
	"github.com/arkilian/dissolve/internal/dissolve"
	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/internal/logging"
	"github.com/arkilian/dissolve/internal/observability"
	"github.com/arkilian/dissolve/internal/storage"
	"github.com/arkilian/dissolve/internal/tableio"
	"github.com/arkilian/dissolve/pkg/types"
)

// Service executes dissolve requests.
type Service struct {
	engine   *dissolve.Engine
	store    storage.ObjectStorage
	cache    cache.Cache
	metrics  *observability.Metrics
	usage    *observability.UsageStats
	defaults config.DissolveConfig
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithStore enables input/output object paths.
func WithStore(s storage.ObjectStorage) Option {
	return func(svc *Service) { svc.store = s }
}

// WithCache enables result caching for inline-table requests.
func WithCache(c cache.Cache) Option {
	return func(svc *Service) { svc.cache = c }
}

// WithMetrics records Prometheus metrics for every request.
func WithMetrics(m *observability.Metrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

// WithUsage records key and reducer usage statistics.
func WithUsage(u *observability.UsageStats) Option {
	return func(svc *Service) { svc.usage = u }
}

// WithDefaults sets the options applied when a request leaves them unset.
func WithDefaults(d config.DissolveConfig) Option {
	return func(svc *Service) { svc.defaults = d }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(svc *Service) { svc.logger = l }
}

// New creates a service around engine.
func New(engine *dissolve.Engine, opts ...Option) *Service {
	svc := &Service{
		engine:   engine,
		defaults: config.DefaultConfig().Dissolve,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Usage returns the usage tracker, or nil.
func (s *Service) Usage() *observability.UsageStats {
	return s.usage
}

// plan is a fully parsed request.
type plan struct {
	opts      dissolve.Options
	readOpts  tableio.ReadOptions
	cacheKey  string
	inputFmt  tableio.Format
	outputFmt tableio.Format
}

// Dissolve runs a request end to end.
func (s *Service) Dissolve(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	if s.metrics != nil {
		defer s.metrics.TrackInFlight()()
	}

	p, err := s.parse(req)
	if err != nil {
		s.observe(p.opts.Method, err, start, 0)
		return nil, err
	}

	if p.cacheKey != "" {
		if resp, ok := s.lookup(ctx, p.cacheKey); ok {
			s.observe(p.opts.Method, nil, start, resp.Groups)
			return resp, nil
		}
	}

	t, err := s.load(ctx, req, p)
	if err != nil {
		s.observe(p.opts.Method, err, start, 0)
		return nil, err
	}

	s.recordUsage(p.opts)
	result, err := s.engine.Dissolve(ctx, t, p.opts)
	if err != nil {
		s.observe(p.opts.Method, err, start, 0)
		return nil, err
	}
	for _, w := range result.Warnings {
		if s.metrics != nil {
			s.metrics.ObserveWarning(string(w.Source))
		}
	}

	resp := &Response{Warnings: result.Warnings, Groups: result.Groups}
	if resp.Warnings == nil {
		resp.Warnings = []dissolve.Warning{}
	}
	if req.Output != "" {
		if err := s.save(ctx, req.Output, p.outputFmt, result.Table); err != nil {
			s.observe(p.opts.Method, err, start, 0)
			return nil, err
		}
		resp.Output = req.Output
	} else {
		data, err := tableio.MarshalTable(result.Table)
		if err != nil {
			s.observe(p.opts.Method, err, start, 0)
			return nil, err
		}
		resp.Table = data
	}

	if p.cacheKey != "" {
		s.remember(ctx, p.cacheKey, resp)
	}
	s.observe(p.opts.Method, nil, start, result.Groups)
	s.logger.Debug("dissolve finished",
		"groups", result.Groups,
		"warnings", len(result.Warnings),
		"duration", time.Since(start))
	return resp, nil
}

func (s *Service) parse(req *Request) (plan, error) {
	var p plan
	p.opts = dissolve.DefaultOptions()

	if req == nil {
		return p, invalid("empty request")
	}
	hasTable := len(req.Table) > 0 && string(req.Table) != "null"
	switch {
	case hasTable && req.Input != "":
		return p, invalid("table and input are mutually exclusive")
	case !hasTable && req.Input == "":
		return p, invalid("one of table or input is required")
	case (req.Input != "" || req.Output != "") && s.store == nil:
		return p, invalid("input and output paths need a configured object store")
	}

	raw, err := DecodeOptions(req.Options)
	if err != nil {
		return p, err
	}
	opts, err := raw.Apply(s.defaults)
	if err != nil {
		return p, err
	}
	if opts.By, err = ParseBy(req.By); err != nil {
		return p, err
	}
	if opts.Level, err = ParseLevel(req.Level); err != nil {
		return p, err
	}
	if opts.AggFunc, err = ParseAggFunc(req.AggFunc); err != nil {
		return p, err
	}
	p.opts = opts

	p.readOpts = tableio.ReadOptions{
		Geometry:    req.Geometry,
		Categorical: req.Categorical,
		Table:       req.SourceTable,
	}
	if req.Input != "" {
		p.inputFmt = tableio.FormatFromPath(req.Input)
		if req.Format != "" {
			if p.inputFmt, err = tableio.ParseFormat(req.Format); err != nil {
				return p, err
			}
		}
	}
	if req.Output != "" {
		p.outputFmt = tableio.FormatFromPath(req.Output)
		if req.OutputFormat != "" {
			if p.outputFmt, err = tableio.ParseFormat(req.OutputFormat); err != nil {
				return p, err
			}
		}
	}

	if s.cache != nil && hasTable && req.Output == "" {
		p.cacheKey = fingerprint(req.Table, opts)
	}
	return p, nil
}

// fingerprint keys the cache by the table bytes and the resolved options,
// so requests that differ only in spelling share an entry.
func fingerprint(table json.RawMessage, opts dissolve.Options) string {
	levels := make([]string, len(opts.Level))
	for i, l := range opts.Level {
		levels[i] = l.String()
	}
	grid := 0.0
	if opts.GridSize != nil {
		grid = *opts.GridSize
	}
	params, _ := json.Marshal(struct {
		By          []string `json:"by"`
		Level       []string `json:"level"`
		AggFunc     string   `json:"aggfunc"`
		AsIndex     bool     `json:"as_index"`
		Sort        bool     `json:"sort"`
		DropNA      bool     `json:"dropna"`
		Observed    bool     `json:"observed"`
		Method      string   `json:"method"`
		GridSize    float64  `json:"grid_size"`
		NumericOnly bool     `json:"numeric_only"`
	}{
		By: opts.By, Level: levels, AggFunc: opts.AggFunc.String(),
		AsIndex: opts.AsIndex, Sort: opts.Sort, DropNA: opts.DropNA, Observed: opts.Observed,
		Method: string(opts.Method), GridSize: grid, NumericOnly: opts.NumericOnly,
	})
	return cache.Fingerprint(table, params)
}

func (s *Service) lookup(ctx context.Context, key string) (*Response, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache lookup failed", "error", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveCache(ok)
	}
	if !ok {
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		s.logger.Warn("discarding undecodable cache entry", "error", err)
		return nil, false
	}
	resp.Cached = true
	return &resp, true
}

func (s *Service) remember(ctx context.Context, key string, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("cannot encode response for cache", "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, data); err != nil {
		s.logger.Warn("cache store failed", "error", err)
	}
}

func (s *Service) load(ctx context.Context, req *Request, p plan) (*types.Table, error) {
	if req.Input == "" {
		t, err := tableio.UnmarshalTable(req.Table)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	data, err := storage.ReadObject(ctx, s.store, req.Input)
	if err != nil {
		return nil, err
	}
	return tableio.Decode(ctx, data, p.inputFmt, p.readOpts)
}

func (s *Service) save(ctx context.Context, path string, format tableio.Format, t *types.Table) error {
	data, err := tableio.Encode(ctx, t, format)
	if err != nil {
		return err
	}
	return storage.WriteObject(ctx, s.store, path, data)
}

func (s *Service) recordUsage(opts dissolve.Options) {
	if s.usage == nil {
		return
	}
	for _, b := range opts.By {
		s.usage.RecordKey(b, "by")
	}
	for _, l := range opts.Level {
		s.usage.RecordKey(l.String(), "level")
	}
	switch {
	case opts.AggFunc.All != nil:
		s.usage.RecordReducer(opts.AggFunc.All.Name())
	case len(opts.AggFunc.Columns) == 0:
		s.usage.RecordReducer("first")
	default:
		for _, c := range opts.AggFunc.Columns {
			for _, r := range c.Reducers {
				s.usage.RecordReducer(r.Name())
			}
		}
	}
}

func (s *Service) observe(method types.UnionMethod, err error, start time.Time, groups int) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = string(dserrors.GetCategory(err))
		if status == "" {
			status = "UNKNOWN"
		}
	}
	s.metrics.ObserveDissolve(string(method), status, time.Since(start), groups)
}
