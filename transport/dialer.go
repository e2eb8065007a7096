package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// DefaultAttemptTimeout bounds a single connect attempt of the scan.
const DefaultAttemptTimeout = 2 * time.Second

// DialerConfig configures a Dialer.
type DialerConfig struct {
	// Host is the listener's hostname or address; every resolved address is tried.
	Host string
	// Ports must be the same range the listener scans.
	Ports PortRange
	// AttemptTimeout bounds each connect attempt; 0 disables the bound.
	AttemptTimeout time.Duration
	// Proxy is an optional socks5:// or http:// proxy URL.
	Proxy string
}

// DefaultDialerConfig targets localhost on the default port range.
func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		Host:           "localhost",
		Ports:          DefaultPortRange(),
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Validate checks the configuration.
func (c DialerConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.AttemptTimeout < 0 {
		return fmt.Errorf("attempt timeout cannot be negative: %v", c.AttemptTimeout)
	}
	return c.Ports.Validate()
}

// Dialer discovers the listener by scanning addresses and ports.
type Dialer struct {
	config   DialerConfig
	dialer   proxy.ContextDialer
	resolver *net.Resolver
}

// NewDialer creates a dialer for config.
func NewDialer(config DialerConfig) (*Dialer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	d, err := newProxyDialer(config.Proxy)
	if err != nil {
		return nil, err
	}

	return &Dialer{
		config:   config,
		dialer:   d,
		resolver: net.DefaultResolver,
	}, nil
}

// Config returns the dialer configuration.
func (d *Dialer) Config() DialerConfig {
	return d.config
}

// Dial resolves the host and tries every address in resolver order and, for
// each address, every port of the range in ascending order. The first
// connection that succeeds is returned. When all pairs fail the error wraps
// ErrUnreachable; the scan is the only retry.
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	addrs, err := d.resolve(ctx)
	if err != nil {
		return nil, newOpError("resolve", d.config.Host, fmt.Errorf("%w: %v", ErrUnreachable, err))
	}

	for _, ip := range addrs {
		for _, port := range d.config.Ports.Ports() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			addr := net.JoinHostPort(ip, strconv.Itoa(int(port)))
			conn, err := d.dialAttempt(ctx, addr)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Dialer.Dial",
					"addr":     addr,
					"error":    err.Error(),
				}).Debug("Connect failed, trying next")
				continue
			}

			logrus.WithFields(logrus.Fields{
				"function": "Dialer.Dial",
				"addr":     addr,
			}).Debug("Connected to listener")
			return conn, nil
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Dialer.Dial",
		"host":      d.config.Host,
		"addresses": len(addrs),
		"ports":     d.config.Ports.String(),
	}).Warn("No reachable listener")

	return nil, newOpError("dial", d.config.Host, ErrUnreachable)
}

// dialAttempt makes one bounded connect attempt.
func (d *Dialer) dialAttempt(ctx context.Context, addr string) (net.Conn, error) {
	if d.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.AttemptTimeout)
		defer cancel()
	}
	return d.dialer.DialContext(ctx, "tcp", addr)
}

// resolve returns the host's addresses as strings in resolver order.
func (d *Dialer) resolve(ctx context.Context) ([]string, error) {
	if ip := net.ParseIP(d.config.Host); ip != nil {
		return []string{ip.String()}, nil
	}

	ipAddrs, err := d.resolver.LookupIPAddr(ctx, d.config.Host)
	if err != nil {
		return nil, err
	}
	if len(ipAddrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", d.config.Host)
	}

	addrs := make([]string, 0, len(ipAddrs))
	for _, a := range ipAddrs {
		addrs = append(addrs, a.String())
	}
	return addrs, nil
}
