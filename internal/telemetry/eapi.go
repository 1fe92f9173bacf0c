package telemetry

import (
	"bytes"
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"codeberg.org/mutker/domwatch/internal/errors"
	"codeberg.org/mutker/domwatch/internal/logger"
	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
)

const (
	showInterfacesStatus = "show interfaces status"
	showVersion          = "show version"
)

// EAPIClient is a Source backed by the device's JSON-RPC command API.
type EAPIClient struct {
	cfg        Config
	httpClient *http.Client
	requestID  atomic.Uint64
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      string    `json:"id"`
}

type rpcParams struct {
	Version int      `json:"version"`
	Cmds    []string `json:"cmds"`
	Format  string   `json:"format"`
}

// NewEAPIClient creates a client for cfg. Certificate verification follows
// cfg.VerifyTLS so self-signed switch certificates can be accepted.
func NewEAPIClient(cfg Config) *EAPIClient {
	tr := &http.Transport{
		//nolint:gosec // G402: operator opt-in for self-signed device certificates
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS},
	}

	return &EAPIClient{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: tr,
			Timeout:   cfg.timeout(),
		},
	}
}

// RunCmds executes cmds in one runCmds call and returns one result per command.
func (c *EAPIClient) RunCmds(ctx context.Context, cmds ...string) ([]gjson.Result, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "runCmds",
		Params: rpcParams{
			Version: 1,
			Cmds:    cmds,
			Format:  "json",
		},
		ID: "domwatch-" + strconv.FormatUint(c.requestID.Add(1), 10),
	}

	logger.Debug().Strs("cmds", cmds).Str("endpoint", c.cfg.Endpoint()).Msg("Running eAPI commands")

	var body bytes.Buffer
	err := requests.URL(c.cfg.Endpoint()).
		Client(c.httpClient).
		BasicAuth(c.cfg.Username, c.cfg.Password).
		BodyJSON(&req).
		ToBytesBuffer(&body).
		Post().
		Fetch(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrConnectivity, err).WithData(classify(err))
	}

	if !gjson.ValidBytes(body.Bytes()) {
		return nil, UnexpectedResponse("response is not valid JSON")
	}

	resp := gjson.ParseBytes(body.Bytes())
	if rpcErr := resp.Get("error"); rpcErr.Exists() {
		code := rpcErr.Get("code").Int()
		msg := rpcErr.Get("message").String()
		if code == invalidCommandCode {
			return nil, errFactory.WithData(ErrCommandRejected, fmt.Sprintf("invalid command %q: %s", cmds, msg))
		}

		return nil, errFactory.WithData(ErrConnectivity, ConnectivityFailure{
			Reason: fmt.Sprintf("eAPI error [%d] while retrieving %q", code, cmds),
			Cause:  msg,
		})
	}

	result := resp.Get("result")
	if !result.IsArray() || len(result.Array()) != len(cmds) {
		return nil, UnexpectedResponse(fmt.Sprintf("expected %d results, got %s", len(cmds), result.Raw))
	}

	return result.Array(), nil
}

// FetchLinkStatuses implements Source.
func (c *EAPIClient) FetchLinkStatuses(ctx context.Context) (map[string]LinkInfo, error) {
	results, err := c.RunCmds(ctx, showInterfacesStatus)
	if err != nil {
		return nil, err
	}

	statuses := results[0].Get("interfaceStatuses")
	if !statuses.IsObject() {
		return nil, UnexpectedResponse("missing interfaceStatuses")
	}

	links := make(map[string]LinkInfo)
	statuses.ForEach(func(name, info gjson.Result) bool {
		links[name.String()] = LinkInfo{
			Status:        info.Get("linkStatus").String(),
			Description:   info.Get("description").String(),
			InterfaceType: info.Get("interfaceType").String(),
			Bandwidth:     info.Get("bandwidth").Int(),
		}
		return true
	})

	return links, nil
}

// FetchTransceiverReadings implements Source. Transceiver data and device
// uptime come back from a single request.
func (c *EAPIClient) FetchTransceiverReadings(ctx context.Context, ids []string) (map[string]Transceiver, int64, error) {
	readings := make(map[string]Transceiver, len(ids))

	cmds := []string{showVersion}
	if len(ids) > 0 {
		cmds = []string{fmt.Sprintf("show interfaces %s transceiver", strings.Join(ids, ", ")), showVersion}
	}

	results, err := c.RunCmds(ctx, cmds...)
	if err != nil {
		return nil, 0, err
	}

	version := results[len(results)-1]
	bootup := version.Get("bootupTimestamp")
	if bootup.Type != gjson.Number {
		return nil, 0, UnexpectedResponse("missing bootupTimestamp")
	}

	if len(ids) > 0 {
		results[0].Get("interfaces").ForEach(func(name, dom gjson.Result) bool {
			readings[name.String()] = parseTransceiver(dom)
			return true
		})
	}

	return readings, int64(bootup.Float()), nil
}

func parseTransceiver(dom gjson.Result) Transceiver {
	return Transceiver{
		TxPower:      measurement(dom.Get("txPower")),
		RxPower:      measurement(dom.Get("rxPower")),
		TxBias:       measurement(dom.Get("txBias")),
		Temperature:  measurement(dom.Get("temperature")),
		Voltage:      measurement(dom.Get("voltage")),
		VendorSerial: dom.Get("vendorSn").String(),
		MediaType:    dom.Get("mediaType").String(),
	}
}

// measurement normalizes a DOM field. Strings such as "N/A" or "-inf" mean
// the optic cannot measure the value; a missing or null field is absent.
func measurement(v gjson.Result) Measurement {
	switch v.Type {
	case gjson.Number:
		return Measurement{Value: v.Float(), State: Present}
	case gjson.String:
		return Measurement{State: NotApplicable}
	default:
		return Measurement{State: Absent}
	}
}

// classify turns a transport failure into an operator-facing reason.
func classify(err error) ConnectivityFailure {
	failure := ConnectivityFailure{Cause: err.Error()}

	var netErr net.Error
	switch {
	case requests.HasStatusErr(err, http.StatusUnauthorized):
		failure.Reason = "bad username or password"
	case requests.HasStatusErr(err, http.StatusMethodNotAllowed), requests.HasStatusErr(err, http.StatusNotFound):
		failure.Reason = "incorrect URL"
	case stderrors.Is(err, context.DeadlineExceeded),
		stderrors.As(err, &netErr) && netErr.Timeout():
		failure.Reason = "connection timed out: incorrect hostname/IP or eAPI not configured on the switch"
	case stderrors.Is(err, syscall.ECONNREFUSED):
		failure.Reason = "connection refused: http instead of https selected or eAPI not configured on the switch"
	case stderrors.Is(err, context.Canceled):
		failure.Reason = "request canceled"
	default:
		failure.Reason = "general error retrieving interface data"
	}

	return failure
}
