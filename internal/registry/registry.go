// Package registry pulls and pushes .wclap bundle directories to an
// OCI registry using oras-go v2, backing wclapctl's "bundle pull"/
// "bundle push" subcommands (SPEC_FULL.md §6).
//
// The teacher's own go.mod declares oras.land/oras-go/v2 as a direct
// dependency but never calls it anywhere in its source (its
// cmd/reglet/plugins_pull.go and plugins_push.go delegate to an
// application-layer PluginService instead) — there is no teacher call
// shape to imitate here, so this package follows oras-go v2's own
// documented "copy between a remote repository and a local file store"
// idiom directly (see DESIGN.md).
package registry

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/file"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// ArtifactType identifies a .wclap bundle pushed to a registry as an
// OCI artifact, distinguishing it from an unrelated image sharing the
// same registry.
const ArtifactType = "application/vnd.wclap-bridge.bundle.v1"

// LayerMediaType is the media type given to every file inside a pushed
// bundle directory; bundles are plain files (module.wasm plus
// resources), not a single compressed archive, so each file becomes
// its own layer rather than requiring a tar step.
const LayerMediaType = "application/vnd.wclap-bridge.bundle.file.v1"

const defaultTag = "latest"

// Credentials supplies registry auth; either field may be empty for
// anonymous access.
type Credentials struct {
	Username string
	Password string
}

func newClient(cred Credentials) *auth.Client {
	c := &auth.Client{Client: retry.DefaultClient, Cache: auth.NewCache()}
	if cred.Username != "" || cred.Password != "" {
		c.Credential = auth.StaticCredential("", auth.Credential{Username: cred.Username, Password: cred.Password})
	}
	return c
}

// Push tars no files: every regular file under bundleDir becomes one
// layer of an OCI artifact tagged ref, then the artifact's manifest is
// pushed to ref's registry.
func Push(ctx context.Context, bundleDir, ref string, cred Credentials) (ocispec.Descriptor, error) {
	store, err := file.New(bundleDir)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("registry: opening %s as a file store: %w", bundleDir, err)
	}
	defer store.Close()

	var layers []ocispec.Descriptor
	err = filepath.WalkDir(bundleDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(bundleDir, path)
		if err != nil {
			return err
		}
		desc, err := store.Add(ctx, rel, LayerMediaType, path)
		if err != nil {
			return fmt.Errorf("adding %s: %w", rel, err)
		}
		layers = append(layers, desc)
		return nil
	})
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if len(layers) == 0 {
		return ocispec.Descriptor{}, fmt.Errorf("registry: %s contains no files to push", bundleDir)
	}

	manifestDesc, err := oras.PackManifest(ctx, store, oras.PackManifestVersion1_1, ArtifactType,
		oras.PackManifestOptions{Layers: layers})
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("registry: packing manifest: %w", err)
	}

	repoRef, tag := splitRef(ref)
	if err := store.Tag(ctx, manifestDesc, tag); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("registry: tagging manifest: %w", err)
	}

	repo, err := remote.NewRepository(repoRef)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("registry: resolving %s: %w", ref, err)
	}
	repo.Client = newClient(cred)

	return oras.Copy(ctx, store, tag, repo, tag, oras.DefaultCopyOptions)
}

// Pull copies the OCI artifact tagged ref into a fresh, uuid-named
// staging directory under destDir's parent and atomically renames it
// into place at destDir on success, so a pull that fails partway never
// leaves a half-populated bundle directory where destDir is expected.
func Pull(ctx context.Context, ref, destDir string, cred Credentials) (ocispec.Descriptor, error) {
	parent := filepath.Dir(destDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("registry: preparing %s: %w", parent, err)
	}
	staging := filepath.Join(parent, ".wclap-pull-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("registry: creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	store, err := file.New(staging)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("registry: opening staging dir as a file store: %w", err)
	}
	defer store.Close()

	repoRef, tag := splitRef(ref)
	repo, err := remote.NewRepository(repoRef)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("registry: resolving %s: %w", ref, err)
	}
	repo.Client = newClient(cred)

	desc, err := oras.Copy(ctx, repo, tag, store, tag, oras.DefaultCopyOptions)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("registry: pulling %s: %w", ref, err)
	}

	if err := os.RemoveAll(destDir); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("registry: clearing destination %s: %w", destDir, err)
	}
	if err := os.Rename(staging, destDir); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("registry: finalizing %s: %w", destDir, err)
	}
	return desc, nil
}

// splitRef separates a "host[:port]/repo[:tag]" reference into the bare
// repository reference remote.NewRepository expects and the tag oras.Copy
// takes separately, defaulting to "latest" when no tag is given. The
// colon search starts after the last slash so a registry's own port
// number is never mistaken for a tag separator.
func splitRef(ref string) (repo, tag string) {
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon > slash {
		return ref[:colon], ref[colon+1:]
	}
	return ref, defaultTag
}
