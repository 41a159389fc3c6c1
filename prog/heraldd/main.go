package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/localnet/herald/common"
	"github.com/localnet/herald/responder"
)

var Log = common.Log

var version = "(unreleased version)"

func main() {
	var (
		justVersion  bool
		hostname     string
		httpAddr     string
		logLevel     string
		ttl          int
		noIPv4       bool
		noIPv6       bool
		ifaceNames   []string
		serviceSpecs []string
	)

	root := &cobra.Command{
		Use:           "heraldd",
		Short:         "Advertise services on the local link over mDNS / DNS-SD",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if justVersion {
				fmt.Printf("heraldd %s\n", version)
				return nil
			}
			if err := common.SetLogLevel(logLevel); err != nil {
				return err
			}

			h, err := responder.Start(hostname, &responder.Options{
				DisableIPv4: noIPv4,
				DisableIPv6: noIPv6,
				Interfaces:  ifaceNames,
				TTL:         ttl,
			})
			if err != nil {
				return err
			}
			defer h.Shutdown()

			for _, spec := range serviceSpecs {
				instance, svcType, port, txt, err := parseService(spec)
				if err != nil {
					return err
				}
				token, err := h.Register(svcType, instance, port, txt)
				if err != nil {
					return err
				}
				Log.Infof("advertising %q as %s port %d (id %d)", instance, svcType, port, token.ID())
			}

			if httpAddr != "" {
				router := mux.NewRouter()
				h.HandleHTTP(router)
				router.Handle("/metrics", h.MetricsHandler())
				go func() {
					if err := http.ListenAndServe(httpAddr, router); err != nil {
						Log.Errorf("http server: %v", err)
					}
				}()
				Log.Infof("status interface on %s", httpAddr)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			Log.Infoln("shutting down")
			return nil
		},
	}

	root.Flags().BoolVar(&justVersion, "version", false, "print version and exit")
	root.Flags().StringVar(&hostname, "hostname", "", "host label to advertise (default: OS hostname)")
	root.Flags().StringVar(&httpAddr, "http-addr", "", "address for the status/metrics HTTP interface")
	root.Flags().StringVar(&logLevel, "log-level", "info", "logging level (debug, info, warning, error)")
	root.Flags().IntVar(&ttl, "ttl", 0, "outbound multicast TTL (default 255)")
	root.Flags().BoolVar(&noIPv4, "no-ipv4", false, "do not respond over IPv4")
	root.Flags().BoolVar(&noIPv6, "no-ipv6", false, "do not respond over IPv6")
	root.Flags().StringSliceVar(&ifaceNames, "iface", nil, "interface to join (repeatable; default: all)")
	root.Flags().StringSliceVar(&serviceSpecs, "service", nil, "service to advertise as instance:type:port[:k=v,k=v]")

	common.CheckFatal(root.Execute())
}

// parseService parses "instance:type:port[:k=v,k=v]",
// e.g. "My Web Server:_http._tcp:8080:path=/,version=1.0".
func parseService(spec string) (instance, svcType string, port uint16, txt []string, err error) {
	parts := strings.SplitN(spec, ":", 4)
	if len(parts) < 3 {
		return "", "", 0, nil, fmt.Errorf("bad service spec %q: want instance:type:port[:txt]", spec)
	}
	p, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return "", "", 0, nil, fmt.Errorf("bad port in service spec %q: %v", spec, err)
	}
	if len(parts) == 4 && parts[3] != "" {
		txt = strings.Split(parts[3], ",")
	}
	return parts[0], parts[1], uint16(p), txt, nil
}
