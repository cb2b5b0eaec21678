// Package pipeline wires the create flow: ingestion, permission
// resolution, rule evaluation, graph assembly and persistence.
package pipeline

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws/arn"

	"github.com/praetorian-inc/privmap/pkg/fault"
	"github.com/praetorian-inc/privmap/pkg/graph"
	"github.com/praetorian-inc/privmap/pkg/ingest"
	"github.com/praetorian-inc/privmap/pkg/rules"
	"github.com/praetorian-inc/privmap/pkg/store"
	"github.com/praetorian-inc/privmap/pkg/types"
)

// CreateOptions configures one create run.
type CreateOptions struct {
	Profile string
	// GaadFile switches to offline mode: the identity set is read from a
	// saved authorization-details dump instead of the live API.
	GaadFile string
	// Workers bounds ingestion and evaluation parallelism; zero keeps
	// the defaults.
	Workers  int
	Registry *rules.Registry
}

// Create runs the full pipeline and returns the persisted snapshot.
// Fatal errors abort immediately; warnings ride along on the snapshot.
func Create(ctx context.Context, st *store.Store, opts CreateOptions) (*store.Snapshot, error) {
	registry := opts.Registry
	if registry == nil {
		registry = rules.DefaultRegistry()
	}

	var (
		auth     *types.AccountAuthorization
		warnings []fault.IngestionWarning
	)

	if opts.GaadFile != "" {
		var err error
		auth, err = ingest.LoadAuthorizationFile(opts.GaadFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg, err := ingest.LoadConfig(ctx, opts.Profile)
		if err != nil {
			return nil, err
		}
		accountID, err := ingest.CallerAccount(ctx, cfg)
		if err != nil {
			return nil, err
		}
		ingestor := ingest.New(ingest.NewIAMClient(cfg))
		ingestor.SetWorkers(opts.Workers)
		auth, warnings, err = ingestor.Ingest(ctx, accountID)
		if err != nil {
			return nil, err
		}
	}

	principals, normWarnings := ingest.Normalize(auth)
	warnings = append(warnings, normWarnings...)
	if len(principals) == 0 {
		return nil, fmt.Errorf("no principals ingested for profile %q", opts.Profile)
	}

	builder := graph.NewBuilder(registry)
	builder.SetWorkers(opts.Workers)
	g, err := builder.Build(ctx, principals)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, builder.Warnings()...)

	accountID := auth.AccountID
	if accountID == "" {
		accountID = accountFromPrincipals(principals)
	}

	rendered := make([]string, 0, len(warnings))
	for _, w := range warnings {
		rendered = append(rendered, w.String())
	}

	snapshot := store.NewSnapshot(opts.Profile, accountID, g, builder.Grants(), rendered)
	if _, err := st.Save(snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// accountFromPrincipals recovers the account ID from principal ARNs when
// the snapshot metadata does not carry one (offline dumps).
func accountFromPrincipals(principals []*types.PrincipalRecord) string {
	for _, p := range principals {
		parsed, err := arn.Parse(p.Arn)
		if err != nil {
			continue
		}
		if parsed.AccountID != "" {
			return parsed.AccountID
		}
	}
	return "unknown"
}
