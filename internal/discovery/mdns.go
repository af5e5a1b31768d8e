// Package discovery advertises and finds canvas servers on the local network over mDNS.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

// DefaultService is the mDNS service type of the canvas server.
const DefaultService = "_revealcanvas._tcp"

// ErrNotFound is returned when a browse finds no server.
var ErrNotFound = errors.New("discovery: no canvas server found")

// Endpoint is a discovered canvas server.
type Endpoint struct {
	Instance string
	Host     string
	Addr     net.IP
	Port     int
	Info     map[string]string
}

// WebSocketURL returns the relay endpoint of the server.
func (e Endpoint) WebSocketURL() string {
	path := e.Info["path"]
	if path == "" {
		path = "/ws"
	}
	return "ws://" + net.JoinHostPort(e.Addr.String(), strconv.Itoa(e.Port)) + path
}

// Advertiser publishes the server while running.
type Advertiser struct {
	server *mdns.Server
	logger *zap.Logger
}

// Advertise starts answering mDNS queries for service on port. info is published as
// key=value TXT records.
func Advertise(instance, service string, port int, info map[string]string, logger *zap.Logger) (*Advertiser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if service == "" {
		service = DefaultService
	}
	txt := encodeInfo(info)
	zone, err := mdns.NewMDNSService(instance, service, "", "", port, nil, txt)
	if err != nil {
		return nil, fmt.Errorf("create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return nil, fmt.Errorf("start mDNS server: %w", err)
	}
	logger.Info("mDNS advertising",
		zap.String("instance", instance),
		zap.String("service", service),
		zap.Int("port", port))
	return &Advertiser{server: server, logger: logger}, nil
}

// Shutdown stops advertising.
func (a *Advertiser) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	a.logger.Info("mDNS advertising stopped")
	return a.server.Shutdown()
}

// Browse queries the network for servers of service until timeout and returns the ones that
// answered with an IPv4 address.
func Browse(service string, timeout time.Duration) ([]Endpoint, error) {
	if service == "" {
		service = DefaultService
	}
	entries := make(chan *mdns.ServiceEntry, 16)
	var found []Endpoint
	done := make(chan struct{})
	go func() {
		defer close(done)
		seen := make(map[string]bool)
		for e := range entries {
			if e.AddrV4 == nil || e.Port == 0 || seen[e.Name] {
				continue
			}
			seen[e.Name] = true
			found = append(found, Endpoint{
				Instance: instanceName(e.Name, service),
				Host:     e.Host,
				Addr:     e.AddrV4,
				Port:     e.Port,
				Info:     decodeInfo(e.InfoFields),
			})
		}
	}()

	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("mDNS query: %w", err)
	}
	return found, nil
}

// Find returns the first server found, preferring instance when it is not empty.
func Find(service, instance string, timeout time.Duration) (Endpoint, error) {
	eps, err := Browse(service, timeout)
	if err != nil {
		return Endpoint{}, err
	}
	for _, e := range eps {
		if instance == "" || e.Instance == instance {
			return e, nil
		}
	}
	return Endpoint{}, ErrNotFound
}

func encodeInfo(info map[string]string) []string {
	txt := make([]string, 0, len(info))
	for k, v := range info {
		txt = append(txt, k+"="+v)
	}
	return txt
}

func decodeInfo(fields []string) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, _ := strings.Cut(f, "=")
		m[k] = v
	}
	return m
}

// instanceName strips the service and domain suffix from an mDNS entry name.
func instanceName(name, service string) string {
	if i := strings.Index(name, "."+service); i >= 0 {
		name = name[:i]
	}
	return strings.ReplaceAll(name, `\ `, " ")
}
