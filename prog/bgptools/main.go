package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gaoyifan/bgptools/bgp"
	"github.com/gaoyifan/bgptools/common"
	"github.com/gaoyifan/bgptools/metrics"
	"github.com/gaoyifan/bgptools/net/address"
	"github.com/gaoyifan/bgptools/pipeline"
)

var version = "unreleased"

const (
	cfgConfigFile       = "config"
	cfgMRTFiles         = "mrt-file"
	cfgIgnorePrivateASN = "ignore-private-asn"
	cfgCache            = "cache"
	cfgMode             = "mode"
	cfgWorkers          = "workers"
	cfgOutput           = "output"
	cfgLogLevel         = "log-level"
	cfgLogFile          = "log-file"
	cfgProfile          = "profile"
	cfgMetricsFile      = "metrics-file"
	cfgVersion          = "version"
)

func newCommand(stdout io.Writer) *cobra.Command {
	config := viper.New()
	cmd := &cobra.Command{
		Use:   "bgptools [flags] ASN...",
		Short: "Print the address space originated by autonomous systems, as minimal CIDR blocks",
		Long: `bgptools reads MRT routing table dumps and prints the IPv4 and then IPv6
prefixes that belong to the given ASNs. ASNs may be written as 13335,
AS13335 or in asdot notation. Every flag can also be set through a
BGPTOOLS_<FLAG> environment variable or the --config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), config, args, stdout)
		},
	}

	flags := cmd.Flags()
	registerFlags(flags)

	config.SetEnvPrefix("BGPTOOLS")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()
	common.CheckFatal(config.BindPFlags(flags))
	return cmd
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String(cfgConfigFile, "", "configuration file (yaml, toml or json)")
	flags.StringSliceP(cfgMRTFiles, "m", []string{"./rib"}, "MRT dump to read; repeat for several files")
	flags.Bool(cfgIgnorePrivateASN, false, "ignore private-use ASNs as origins and upstreams")
	flags.String(cfgCache, "", "result cache file (disabled when empty)")
	flags.String(cfgMode, string(pipeline.ModeInterval), "attribution mode: interval or filter (single file)")
	flags.Int(cfgWorkers, 0, "concurrent workers (default GOMAXPROCS)")
	flags.StringP(cfgOutput, "o", "", "write prefixes to this file instead of stdout")
	flags.String(cfgLogLevel, "info", "logging level (debug, info, warning, error)")
	flags.String(cfgLogFile, "", "also log to this file, rotated")
	flags.String(cfgProfile, "", "write a CPU profile to this directory")
	flags.String(cfgMetricsFile, "", "write run metrics in Prometheus text format to this file")
	flags.Bool(cfgVersion, false, "print version and exit")
}

func run(ctx context.Context, config *viper.Viper, args []string, stdout io.Writer) error {
	if config.GetBool(cfgVersion) {
		fmt.Fprintf(stdout, "bgptools %s\n", version)
		return nil
	}
	if file := config.GetString(cfgConfigFile); file != "" {
		config.SetConfigFile(file)
		if err := config.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "reading config %s", file)
		}
	}
	if err := common.SetLogLevel(config.GetString(cfgLogLevel)); err != nil {
		return err
	}
	if file := config.GetString(cfgLogFile); file != "" {
		defer common.LogToFile(file).Close()
	}
	if dir := config.GetString(cfgProfile); dir != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(dir), profile.NoShutdownHook, profile.Quiet).Stop()
	}

	targets, err := parseTargets(args)
	if err != nil {
		return err
	}
	mode, err := pipeline.ParseMode(config.GetString(cfgMode))
	if err != nil {
		return err
	}
	cfg := pipeline.Config{
		Files:            config.GetStringSlice(cfgMRTFiles),
		Targets:          targets,
		IgnorePrivateASN: config.GetBool(cfgIgnorePrivateASN),
		CachePath:        config.GetString(cfgCache),
		Mode:             mode,
		Workers:          config.GetInt(cfgWorkers),
	}
	common.Log.Debugf("Running %s: %+v", version, cfg)

	m := metrics.New()
	cidrs, err := pipeline.New(cfg, m).Run(ctx)
	if err != nil {
		return err
	}
	if err := writeOutput(config.GetString(cfgOutput), stdout, cidrs); err != nil {
		return err
	}
	if file := config.GetString(cfgMetricsFile); file != "" {
		return m.WriteTextfile(file)
	}
	return nil
}

func parseTargets(args []string) (bgp.ASNSet, error) {
	var asns []bgp.ASN
	for _, arg := range args {
		for _, field := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			asn, err := bgp.ParseASN(field)
			if err != nil {
				return nil, err
			}
			asns = append(asns, asn)
		}
	}
	return bgp.NewASNSet(asns...), nil
}

func writeOutput(path string, stdout io.Writer, cidrs []address.CIDR) error {
	out := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, "creating output")
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	for _, c := range cidrs {
		fmt.Fprintln(w, c)
	}
	return errors.Wrap(w.Flush(), "writing output")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	common.CheckFatal(newCommand(os.Stdout).ExecuteContext(ctx))
}
