package siteinfo

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/kbukum/resetkit/database"
	"github.com/kbukum/resetkit/logger"
	"github.com/kbukum/resetkit/version"
)

// DefaultProduct names the codebase when no product is configured.
const DefaultProduct = "resetkit"

// Environment is one snapshot of the run environment.
type Environment struct {
	Product   string `json:"product"`
	Release   string `json:"release"`
	GitHash   string `json:"git_hash,omitempty"`
	GoVersion string `json:"go_version"`
	DBType    string `json:"db_type"`
	DBVersion string `json:"db_version"`
	OS        string `json:"os"`
}

// String renders the two-line summary printed at the start of a run.
func (e Environment) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Product, e.Release)
	if e.GitHash != "" {
		fmt.Fprintf(&b, ", %s", e.GitHash)
	}
	fmt.Fprintf(&b, "\nGo: %s, %s: %s, OS: %s\n", e.GoVersion, e.DBType, e.DBVersion, e.OS)
	return b.String()
}

// Reporter collects Environment values.
type Reporter struct {
	product    string
	fs         afero.Fs
	sourceRoot string
	marker     string
	db         database.Conn
	log        *logger.Logger
}

// New creates a reporter for the codebase at sourceRoot. An empty product
// selects DefaultProduct; an empty marker selects version.DefaultMarker.
func New(product string, fs afero.Fs, sourceRoot, marker string, db database.Conn, log *logger.Logger) *Reporter {
	if product == "" {
		product = DefaultProduct
	}
	return &Reporter{
		product:    product,
		fs:         fs,
		sourceRoot: sourceRoot,
		marker:     marker,
		db:         db,
		log:        log.WithComponent("siteinfo"),
	}
}

// Environment gathers the current environment. The git hash is left empty
// when the source root is not a readable checkout.
func (r *Reporter) Environment(ctx context.Context) (Environment, error) {
	release, err := version.Release(r.fs, r.sourceRoot, r.marker)
	if err != nil {
		return Environment{}, fmt.Errorf("read release: %w", err)
	}
	server, err := r.db.ServerInfo(ctx)
	if err != nil {
		return Environment{}, err
	}
	env := Environment{
		Product:   r.product,
		Release:   release,
		GoVersion: version.Build().GoVersion,
		DBType:    server.Description,
		DBVersion: server.Version,
		OS:        osDescription(),
	}
	if hash, ok := version.GitHead(r.fs, r.sourceRoot); ok {
		env.GitHash = hash
	} else {
		r.log.Debug("no git checkout", logger.Fields(logger.FieldPath, r.sourceRoot))
	}
	return env, nil
}

// Info returns the rendered summary.
func (r *Reporter) Info(ctx context.Context) (string, error) {
	env, err := r.Environment(ctx)
	if err != nil {
		return "", err
	}
	return env.String(), nil
}
