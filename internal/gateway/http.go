package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/oprelay/internal/protocol"
	"github.com/GriffinCanCode/oprelay/internal/settings"
)

// HTTPGateway posts each message to the backend's context root.
type HTTPGateway struct {
	client *resty.Client
	logger *zap.Logger
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
	Logger    *zap.Logger
}

// NewHTTP creates an HTTP gateway. Retries are disabled at both layers:
// the relay owns the retry policy.
func NewHTTP(cfg HTTPConfig) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "oprelay/1.0"
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Content-Type", "application/json").
		SetTransport(retryClient.HTTPClient.Transport)

	return &HTTPGateway{
		client: client,
		logger: logging.OrNop(cfg.Logger).Named("gateway.http"),
	}
}

// Kind implements Gateway.
func (g *HTTPGateway) Kind() string { return "http" }

// Send posts msg.Body once. A failed backend operation comes back as HTTP
// 400 with a JSON reply and is not a transport error.
func (g *HTTPGateway) Send(ctx context.Context, msg *Outbound) (*Reply, error) {
	url := msg.Settings.EndpointURL()

	trace := http.Header{}
	tracing.Inject(ctx, trace)

	resp, err := g.client.R().
		SetContext(ctx).
		SetHeaderMultiValues(trace).
		SetHeader(TokenHeader, msg.Settings.PersonalToken).
		SetBody(msg.Body).
		Post(url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: post %s: %v", protocol.ErrTransportError, url, err)
	}

	reply, err := ParseReply(resp.Body())
	if err != nil {
		g.logger.Warn("backend returned a non-JSON body",
			zap.String("request_id", msg.RequestID),
			zap.Int("status", resp.StatusCode()),
		)
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		reply.Succeed = false
	}
	if reply.RequestID == "" {
		reply.RequestID = msg.RequestID
	}

	g.logger.Debug("backend replied",
		zap.String("request_id", msg.RequestID),
		zap.Stringer("op", msg.Kind),
		zap.Int("status", resp.StatusCode()),
		zap.Bool("succeed", reply.Succeed),
	)
	return reply, nil
}

// Probe issues GET on the heartbeat root and expects a 2xx status.
func (g *HTTPGateway) Probe(ctx context.Context, s settings.Settings) error {
	resp, err := g.client.R().SetContext(ctx).Get(s.HeartbeatURL())
	if err != nil {
		return fmt.Errorf("%w: heartbeat: %v", protocol.ErrTransportError, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: heartbeat status %d", protocol.ErrTransportError, resp.StatusCode())
	}
	return nil
}

// OnDisconnect implements Gateway. HTTP has no persistent channel.
func (g *HTTPGateway) OnDisconnect(func(error)) {}

// Close implements Gateway.
func (g *HTTPGateway) Close() error {
	g.client.GetClient().CloseIdleConnections()
	return nil
}
