package provider

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// DockerProvider runs sandboxes as Docker containers via the docker CLI.
type DockerProvider struct {
	Policy Policy
}

// NewDockerProvider creates a provider with the given policy.
func NewDockerProvider(policy Policy) *DockerProvider {
	return &DockerProvider{Policy: policy}
}

func (d *DockerProvider) Create(ctx context.Context, spec CreateSpec) (string, error) {
	t := spec.Template
	if !d.Policy.IsImageAllowed(t.Image) {
		return "", fmt.Errorf("image %q not in allowlist", t.Image)
	}

	args := []string{
		"create",
		"--memory", d.Policy.MaxMemory,
		"-w", t.WorkRoot,
	}
	if !d.Policy.Network {
		args = append(args, "--network=none")
	}
	for k, v := range t.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, t.Image)
	args = append(args, t.Command...)

	out, stderr, err := d.run(ctx, nil, args...)
	if err != nil {
		return "", fmt.Errorf("docker create: %w: %s", err, stderr)
	}
	ref := strings.TrimSpace(out)

	if spec.Restore != nil {
		if err := d.copyIn(ctx, ref, t.WorkRoot, spec.Restore); err != nil {
			return ref, fmt.Errorf("seeding from snapshot: %w", err)
		}
	}
	return ref, nil
}

func (d *DockerProvider) Start(ctx context.Context, ref string) error {
	if _, stderr, err := d.run(ctx, nil, "start", ref); err != nil {
		if isNoSuchContainer(stderr) {
			return ErrRefNotFound
		}
		return fmt.Errorf("docker start: %w: %s", err, stderr)
	}
	return nil
}

func (d *DockerProvider) ReadFile(ctx context.Context, ref, path string) ([]byte, error) {
	out, stderr, err := d.run(ctx, nil, "exec", ref, "cat", "--", path)
	if err != nil {
		switch {
		case isNoSuchContainer(stderr):
			return nil, ErrRefNotFound
		case strings.Contains(stderr, "No such file"), strings.Contains(stderr, "Is a directory"):
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("docker exec cat: %w: %s", err, stderr)
	}
	return []byte(out), nil
}

func (d *DockerProvider) CopyOut(ctx context.Context, ref, path string) ([]byte, error) {
	// Copying path/. keeps member names relative to the subtree itself, and
	// recompressing means archives look the same no matter which provider
	// produced them.
	out, stderr, err := d.run(ctx, nil, "cp", ref+":"+path+"/.", "-")
	if err != nil {
		switch {
		case isNoSuchContainer(stderr):
			return nil, ErrRefNotFound
		case strings.Contains(stderr, "No such file"), strings.Contains(stderr, "Could not find the file"):
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("docker cp: %w: %s", err, stderr)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(out)); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *DockerProvider) Destroy(ctx context.Context, ref string) error {
	if _, stderr, err := d.run(ctx, nil, "rm", "-f", ref); err != nil {
		if isNoSuchContainer(stderr) {
			return ErrRefNotFound
		}
		return fmt.Errorf("docker rm: %w: %s", err, stderr)
	}
	return nil
}

// copyIn streams a gzipped tarball into dest inside the container. docker cp
// expects plain tar on stdin, so the archive is decompressed on the way in.
func (d *DockerProvider) copyIn(ctx context.Context, ref, dest string, archive []byte) error {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return fmt.Errorf("reading restore archive: %w", err)
	}
	defer gz.Close()

	tarData, err := io.ReadAll(gz)
	if err != nil {
		return fmt.Errorf("reading restore archive: %w", err)
	}

	if _, stderr, err := d.run(ctx, tarData, "cp", "-", ref+":"+dest); err != nil {
		return fmt.Errorf("docker cp -: %w: %s", err, stderr)
	}
	return nil
}

func (d *DockerProvider) run(ctx context.Context, stdin []byte, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func isNoSuchContainer(stderr string) bool {
	return strings.Contains(stderr, "No such container")
}
