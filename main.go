package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/firefart/dmarcanalyzer/internal/analyzer"
	"github.com/firefart/dmarcanalyzer/internal/config"
	"github.com/firefart/dmarcanalyzer/internal/dns"
	"github.com/firefart/dmarcanalyzer/internal/export"
	"github.com/firefart/dmarcanalyzer/internal/geoip"
	"github.com/firefart/dmarcanalyzer/internal/imap"
	"github.com/firefart/dmarcanalyzer/internal/metrics"
	"github.com/firefart/dmarcanalyzer/internal/render"
	"github.com/firefart/dmarcanalyzer/internal/source"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-isatty"
)

func main() {
	debug := flag.Bool("debug", false, "Print debug output")
	configFile := flag.String("config", "", "Config File to use (json or yaml)")
	envFile := flag.String("env", ".env", "dotenv file with overrides")
	dir := flag.String("dir", "", "DMARC report directory (default: ~/Downloads/DMARC)")
	all := flag.Bool("all", false, "Show all records, not only the ones with errors")
	details := flag.Bool("details", false, "Show the detailed analysis without asking")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	format := flag.String("format", "table", "Output format: table, json or xml")
	removeArchives := flag.Bool("remove-archives", false, "Delete zip and gz files after reading them")
	useIMAP := flag.Bool("imap", false, "Read the reports from the configured IMAP folder")
	resolve := flag.Bool("resolve", false, "Resolve source IPs to hostnames")
	dnsServer := flag.String("dns-server", "", "DNS server (host:port) used to resolve source IPs")
	geoipCountry := flag.String("geoip-country", "", "MaxMind country database")
	geoipASN := flag.String("geoip-asn", "", "MaxMind ASN database")
	metricsFile := flag.String("metrics-file", "", "Write run metrics in the Prometheus text format to this file")
	syslogServer := flag.String("syslog", "", "Forward the records to this syslog server (host:port)")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
	if *debug {
		logger.SetLevel(log.DebugLevel)
	}

	// set some defaults
	defaults := config.Configuration{
		Source:    config.SourceDirectory,
		Directory: defaultDirectory(),
		Format:    "table",
		DnsTimeout: config.Duration{
			Duration: 5 * time.Second,
		},
		DnsCacheTimeout: config.Duration{
			Duration: 1 * time.Hour,
		},
		Syslog: config.SyslogConfig{
			Protocol: "tcp",
			Tag:      "dmarc",
			Format:   export.FormatJSON,
		},
		ImapConfig: config.IMAPConfig{
			Folder:    "INBOX",
			BatchSize: 30,
			Timeout: config.Duration{
				Duration: 30 * time.Second,
			},
		},
	}

	settings := &defaults
	if *configFile != "" {
		var err error
		settings, err = config.GetConfig(defaults, *configFile)
		if err != nil {
			logger.Error("could not read config", "file", *configFile, "err", err)
			os.Exit(1)
		}
	}

	if err := config.LoadEnv(settings, *envFile); err != nil {
		logger.Error("could not load environment", "err", err)
		os.Exit(1)
	}

	// only flags given on the command line override the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dir":
			settings.Directory = *dir
		case "all":
			settings.ShowAll = *all
		case "details":
			settings.ShowDetails = *details
		case "no-color":
			settings.NoColor = *noColor
		case "format":
			settings.Format = *format
		case "remove-archives":
			settings.RemoveArchives = *removeArchives
		case "imap":
			if *useIMAP {
				settings.Source = config.SourceIMAP
			}
		case "resolve":
			settings.Resolve = *resolve
		case "dns-server":
			settings.DnsServer = *dnsServer
		case "geoip-country":
			settings.GeoIPCountryDB = *geoipCountry
		case "geoip-asn":
			settings.GeoIPASNDB = *geoipASN
		case "metrics-file":
			settings.MetricsFile = *metricsFile
		case "syslog":
			settings.Syslog.Server = *syslogServer
		}
	})

	if err := config.Validate(settings); err != nil {
		logger.Error("invalid settings", "err", err)
		os.Exit(1)
	}

	// trap Ctrl+C and call cancel on the context
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer func() {
		signal.Stop(c)
		cancel()
	}()

	go func() {
		select {
		case <-c:
			logger.Warn("CTRL+C received, aborting")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := run(ctx, settings, logger); err != nil {
		logger.Error("analysis failed", "err", err)
		cancel()
		os.Exit(1) // nolint: gocritic
	}
}

func defaultDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("Downloads", "DMARC")
	}
	return filepath.Join(home, "Downloads", "DMARC")
}

func newSource(settings *config.Configuration, logger *log.Logger) source.Source {
	if settings.Source == config.SourceIMAP {
		return imap.NewMailbox(settings.ImapConfig, logger)
	}
	return source.NewDir(settings.Directory, source.DirOptions{
		RemoveArchives: settings.RemoveArchives,
		Workers:        settings.Workers,
	}, logger)
}

func run(ctx context.Context, settings *config.Configuration, logger *log.Logger) error {
	logger.Info("starting DMARC report analysis", "source", settings.Source)

	docs, err := newSource(settings, logger).Load(ctx)
	if err != nil {
		if len(docs) == 0 {
			return err
		}
		// unreadable files are skipped
		var merr *multierror.Error
		if errors.As(err, &merr) {
			for _, e := range merr.Errors {
				logger.Error("could not read report", "err", e)
			}
		} else {
			logger.Error("could not read all reports", "err", err)
		}
	}
	if len(docs) == 0 {
		logger.Warn("no reports found")
		return nil
	}
	logger.Info("processing reports", "count", len(docs))

	res := analyzer.New(analyzer.Options{ShowAll: settings.ShowAll}, logger).Analyze(docs)
	if len(res.Consolidated) == 0 {
		logger.Warn("no processable records found")
		return nil
	}

	if err := enrich(ctx, settings, res, logger); err != nil {
		return err
	}

	now := time.Now()
	entries := export.Entries(res, export.Options{
		EventID:       settings.Syslog.EventID,
		EventCategory: settings.Syslog.EventCategory,
	}, now)

	switch settings.Format {
	case export.FormatJSON, export.FormatXML:
		lines, err := export.Convert(settings.Format, entries)
		if err != nil {
			return err
		}
		if err := export.WriteLines(os.Stdout, lines); err != nil {
			return fmt.Errorf("could not write output: %w", err)
		}
	default:
		printTable(settings, res)
	}

	if settings.Syslog.Enabled() {
		if err := forward(settings.Syslog, entries, logger); err != nil {
			return err
		}
	}

	if settings.MetricsFile != "" {
		m := metrics.New()
		m.Observe(res, now)
		if err := m.WriteFile(settings.MetricsFile); err != nil {
			return fmt.Errorf("could not write metrics: %w", err)
		}
		logger.Info("wrote metrics", "file", settings.MetricsFile)
	}

	return nil
}

func enrich(ctx context.Context, settings *config.Configuration, res *analyzer.Result, logger *log.Logger) error {
	var resolver analyzer.HostResolver
	if settings.Resolve {
		resolver = dns.NewCachedDNSResolver(settings.DnsServer, settings.DnsTimeout.Duration, settings.DnsCacheTimeout.Duration, logger)
	}

	var locator analyzer.Locator
	if settings.GeoIPCountryDB != "" || settings.GeoIPASNDB != "" {
		geo, err := geoip.Open(settings.GeoIPCountryDB, settings.GeoIPASNDB)
		if err != nil {
			return err
		}
		defer func() {
			if err := geo.Close(); err != nil {
				logger.Error("could not close geoip databases", "err", err)
			}
		}()
		locator = geo
	}

	if err := res.Enrich(ctx, resolver, locator); err != nil {
		return fmt.Errorf("could not enrich source ips: %w", err)
	}
	return nil
}

func printTable(settings *config.Configuration, res *analyzer.Result) {
	color := !settings.NoColor && isTerminal(os.Stdout)
	p := render.New(os.Stdout, color)
	p.Report(res)

	// nothing to analyze if all records were fine
	if !res.ShowAll && len(res.Displayed) == 0 {
		return
	}

	showDetails := settings.ShowDetails
	if !showDetails && isTerminal(os.Stdin) && isTerminal(os.Stdout) {
		showDetails = render.Confirm(os.Stdin, os.Stdout, "Show detailed analysis?")
	}
	if showDetails {
		p.Details(res.Summary(), res.Caveats)
	}
}

func forward(conf config.SyslogConfig, entries []export.Entry, logger *log.Logger) error {
	lines, err := export.Convert(conf.Format, entries)
	if err != nil {
		return err
	}
	w, err := export.DialSyslog(conf)
	if err != nil {
		return err
	}
	defer w.Close()

	for _, l := range lines {
		logger.Debug("converted entry", "entry", string(l))
	}
	if err := export.Forward(w, lines); err != nil {
		return err
	}
	logger.Info("forwarded records to syslog", "server", conf.Server, "count", len(lines))
	return nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
