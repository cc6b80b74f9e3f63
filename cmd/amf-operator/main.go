// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command amf-operator is the unit controller for an SD-Core AMF
// deployed on Kubernetes. It listens for platform lifecycle events on
// a unix socket, and for every event runs one reconciliation pass
// that converges the AMF workload container on the desired state.
package main

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"github.com/juju/names/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/amfconfig"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/charmconfig"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/dispatcher"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/externalservice"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/metrics"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/reconciler"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/relation"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/unitpki"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/unitstate"
	"github.com/canonical/sdcore-amf-k8s-operator/internal/workload"
)

var logger = loggo.GetLogger("sdcore-amf.cmd")

type options struct {
	dataDir      string
	pebbleSocket string
	hookSocket   string
	namespace    string
	appName      string
	metricsAddr  string
	tickInterval time.Duration
	logConfig    string
}

func parseOptions(args []string) (options, error) {
	var opts options
	f := gnuflag.NewFlagSet("amf-operator", gnuflag.ContinueOnError)
	f.StringVar(&opts.dataDir, "data-dir", "/var/lib/sdcore-amf", "directory for unit state and channel data")
	f.StringVar(&opts.pebbleSocket, "pebble-socket", "/charm/containers/amf/pebble.socket", "path to the workload container's pebble socket")
	f.StringVar(&opts.hookSocket, "hook-socket", "/var/lib/sdcore-amf/hooks.socket", "unix socket to receive lifecycle events on")
	f.StringVar(&opts.namespace, "namespace", os.Getenv("NAMESPACE"), "kubernetes namespace of this unit")
	f.StringVar(&opts.appName, "app-name", "amf", "application name, used to label the external service")
	f.StringVar(&opts.metricsAddr, "metrics-addr", fmt.Sprintf(":%d", metrics.Port), "address to serve operator metrics on")
	f.DurationVar(&opts.tickInterval, "tick-interval", 5*time.Minute, "interval between periodic reconciliation passes")
	f.StringVar(&opts.logConfig, "log-config", "<root>=INFO", "loggo configuration string")
	if err := f.Parse(true, args); err != nil {
		return options{}, errors.Trace(err)
	}
	if opts.namespace == "" {
		return options{}, errors.NotValidf("empty namespace")
	}
	if !names.IsValidApplication(opts.appName) {
		return options{}, errors.NotValidf("application name %q", opts.appName)
	}
	return opts, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "amf-operator: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseOptions(args)
	if err != nil {
		return errors.Trace(err)
	}
	if err := loggo.ConfigureLoggers(opts.logConfig); err != nil {
		return errors.Trace(err)
	}

	container, err := workload.NewPebbleContainer(opts.pebbleSocket)
	if err != nil {
		return errors.Trace(err)
	}

	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return errors.Annotate(err, "reading in-cluster kubernetes config")
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return errors.Trace(err)
	}
	external := externalservice.New(clientset, opts.namespace, opts.appName, amfconfig.NGAPPort)

	channels := relation.NewDirStore(opts.dataDir + "/relations")
	state := unitstate.NewFileStore(opts.dataDir)

	certificates, err := unitpki.NewManager(unitpki.ManagerConfig{
		Store:     workload.NewTLSStore(container),
		Publisher: channels,
		Clock:     clock.WallClock,
	})
	if err != nil {
		return errors.Trace(err)
	}
	driver, err := workload.NewDriver(workload.DriverConfig{
		Container: container,
		State:     state,
	})
	if err != nil {
		return errors.Trace(err)
	}

	collector := metrics.NewCollector()
	registry, err := metrics.NewRegistry(collector)
	if err != nil {
		return errors.Trace(err)
	}
	go serveMetrics(opts.metricsAddr, registry)

	engine, err := reconciler.New(reconciler.Config{
		Channels:     channels,
		Publisher:    channels,
		ConfigSource: charmconfig.NewFileSource(opts.dataDir + "/config.yaml"),
		Certificates: certificates,
		Driver:       driver,
		Container:    container,
		State:        state,
		StatusSetter: state,
		External:     external,
		PodIP:        podIP,
		Clock:        clock.WallClock,
		Metrics:      collector,
	})
	if err != nil {
		return errors.Trace(err)
	}

	events := make(chan dispatcher.Event)
	listener, err := listenHooks(opts.hookSocket)
	if err != nil {
		return errors.Trace(err)
	}
	defer listener.Close()
	go serveHooks(listener, events)

	w, err := dispatcher.NewWorker(dispatcher.Config{
		Engine:       engine,
		Events:       events,
		Clock:        clock.WallClock,
		TickInterval: opts.tickInterval,
	})
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("amf-operator started for %s/%s", opts.namespace, opts.appName)

	err = w.Wait()
	if errors.Is(err, dispatcher.ErrRemoved) {
		logger.Infof("unit removed, exiting")
		return nil
	}
	return errors.Trace(err)
}

// podIP reads this pod's address from the downward API environment.
func podIP() (string, error) {
	ip := os.Getenv("POD_IP")
	if ip == "" {
		return "", errors.NotFoundf("POD_IP in environment")
	}
	return ip, nil
}

func listenHooks(path string) (net.Listener, error) {
	// A stale socket from a previous incarnation refuses the bind.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Trace(err)
	}
	listener, err := net.Listen("unix", path)
	return listener, errors.Trace(err)
}

// serveHooks accepts connections on the hook socket and forwards one
// Event per newline-terminated hook name. Unknown hook names are
// dropped with a debug log.
func serveHooks(listener net.Listener, events chan<- dispatcher.Event) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			logger.Debugf("hook socket closed: %v", err)
			close(events)
			return
		}
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			name := scanner.Text()
			event, ok := dispatcher.ParseHook(name)
			if !ok {
				logger.Debugf("ignoring hook %q", name)
				continue
			}
			events <- event
		}
		_ = conn.Close()
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorf("metrics server: %v", err)
	}
}
