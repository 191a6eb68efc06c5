package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sharedcode/cloudkvs/encoding"
	"github.com/sharedcode/cloudkvs/facade"
	"github.com/sharedcode/cloudkvs/kvs"
	"github.com/sharedcode/cloudkvs/restapi"
)

// withFacade opens the gateway, resolves the selected facade and runs fn.
func (c *cli) withFacade(cmd *cobra.Command, fn func(ctx context.Context, f facade.Facade) error) error {
	ctx := cmd.Context()
	g, err := c.open(ctx, false)
	if err != nil {
		return err
	}
	defer g.Close(context.Background())
	f, err := c.facade(g)
	if err != nil {
		return err
	}
	return fn(ctx, f)
}

func (c *cli) runPut(cmd *cobra.Command, args []string) error {
	key, src := args[0], args[1]
	var value []byte
	var err error
	if src == "-" {
		value, err = io.ReadAll(cmd.InOrStdin())
	} else {
		value, err = os.ReadFile(src)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	return c.withFacade(cmd, func(ctx context.Context, f facade.Facade) error {
		if err := f.Put(ctx, key, value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "stored %d bytes under %q with %s\n", len(value), key, f.SchemeID())
		return nil
	})
}

func (c *cli) runGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	return c.withFacade(cmd, func(ctx context.Context, f facade.Facade) error {
		value, err := f.Get(ctx, key, nil)
		if err != nil {
			return err
		}
		if len(args) == 2 && args[1] != "-" {
			return os.WriteFile(args[1], value, 0o644)
		}
		_, err = cmd.OutOrStdout().Write(value)
		return err
	})
}

func (c *cli) runRm(cmd *cobra.Command, args []string) error {
	return c.withFacade(cmd, func(ctx context.Context, f facade.Facade) error {
		return f.Delete(ctx, args[0])
	})
}

type usage struct {
	Facade    string           `json:"facade"`
	BytesUsed int64            `json:"bytes_used"`
	Backends  map[string]int64 `json:"backends"`
}

func (c *cli) runDu(cmd *cobra.Command, args []string) error {
	return c.withFacade(cmd, func(ctx context.Context, f facade.Facade) error {
		u := usage{Facade: f.Key(), Backends: make(map[string]int64)}
		for _, s := range f.Stores() {
			n, err := s.BytesUsed(ctx)
			if err != nil {
				n = -1
			}
			u.Backends[s.ID()] = n
		}
		total, err := f.BytesUsed(ctx)
		if err != nil {
			return err
		}
		u.BytesUsed = total
		return printJSON(cmd, u)
	})
}

type backendInfo struct {
	ID string `json:"id"`
	kvs.HealthSnapshot
}

func (c *cli) runBackends(cmd *cobra.Command, args []string) error {
	g, err := c.open(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer g.Close(context.Background())
	return printBackends(cmd, g.Manager)
}

func (c *cli) runProbe(cmd *cobra.Command, args []string) error {
	g, err := c.open(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer g.Close(context.Background())
	g.Manager.ProbeAll(cmd.Context(), g.Config.ProbeSize)
	return printBackends(cmd, g.Manager)
}

func (c *cli) runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	g, err := c.open(ctx, true)
	if err != nil {
		return err
	}
	defer g.Close(context.Background())
	opts := restapi.Options{Token: os.Getenv("CLOUDKVS_ADMIN_TOKEN")}
	admin := g.Config.Admin
	if admin.OktaDomain == "" {
		admin.OktaDomain = os.Getenv("OKTA_DOMAIN")
	}
	if admin.OktaClientID == "" {
		admin.OktaClientID = os.Getenv("OKTA_CLIENT_ID")
	}
	if admin.OktaDomain != "" {
		opts.Verifier = restapi.NewOktaVerifier(admin.OktaDomain, admin.OktaClientID)
	}
	router := restapi.NewRouter(g.Manager, g.Registry, opts)
	return restapi.Serve(ctx, g.Config.Admin.Listen, router)
}

func printBackends(cmd *cobra.Command, m *kvs.Manager) error {
	stores := m.SortedByReads()
	r := make([]backendInfo, len(stores))
	for i, s := range stores {
		r[i] = backendInfo{ID: s.ID(), HealthSnapshot: s.Health().Snapshot()}
	}
	return printJSON(cmd, r)
}

func printJSON(cmd *cobra.Command, v any) error {
	ba, err := encoding.DefaultMarshaler.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(ba))
	return err
}
