package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/torosent/probefire/internal/har"
)

type importHAROptions struct {
	hosts        []string
	excludeHosts []string
	methods      []string
	keepStatic   bool
	noHeaders    bool
	out          string
}

func newImportHARCommand(stdout io.Writer) *cobra.Command {
	var opts importHAROptions
	cmd := &cobra.Command{
		Use:   "import-har <file.har>",
		Short: "Convert a browser HAR capture into a probe catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return importHAR(args[0], opts, stdout)
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&opts.hosts, "host", nil, "Only keep requests to this host (repeatable)")
	flags.StringSliceVar(&opts.excludeHosts, "exclude-host", nil, "Drop requests to this host (repeatable)")
	flags.StringSliceVar(&opts.methods, "method", nil, "Only keep requests with this method (repeatable)")
	flags.BoolVar(&opts.keepStatic, "keep-static", false, "Keep static assets (.js, .css, images, fonts)")
	flags.BoolVar(&opts.noHeaders, "no-headers", false, "Do not copy recorded request headers")
	flags.StringVarP(&opts.out, "out", "o", "", "Write the catalog to this file instead of stdout")
	return cmd
}

func importHAR(path string, opts importHAROptions, stdout io.Writer) error {
	doc, err := har.ParseFile(path)
	if err != nil {
		return err
	}

	convert := har.DefaultOptions()
	convert.IncludeHosts = opts.hosts
	convert.ExcludeHosts = opts.excludeHosts
	convert.IncludeMethods = opts.methods
	convert.ExcludeStatic = !opts.keepStatic
	convert.IncludeHeaders = !opts.noHeaders

	probes, err := har.Convert(doc, convert)
	if err != nil {
		return fmt.Errorf("convert HAR: %w", err)
	}
	if len(probes) == 0 {
		return fmt.Errorf("no requests in %s matched the filters", path)
	}

	if opts.out == "" {
		return har.WriteCatalog(stdout, probes)
	}
	file, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("create catalog: %w", err)
	}
	if err := har.WriteCatalog(file, probes); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
