package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-units"

	"github.com/drydock-sh/drydock/internal/catalog"
)

const labelManagedBy = "drydock"

// DockerAdapter implements Adapter against a Docker Engine endpoint.
type DockerAdapter struct {
	client *dockerclient.Client
}

// NewDockerAdapter connects to the Docker daemon and verifies it responds.
func NewDockerAdapter(ctx context.Context, host string) (*DockerAdapter, error) {
	opts := []dockerclient.Opt{
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(host))
	}

	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: docker ping: %v", ErrRuntimeUnavailable, err)
	}

	log.Println("Docker daemon connected")
	return &DockerAdapter{client: cli}, nil
}

func parseCPUToNanoCPUs(cpuStr string) int64 {
	if strings.HasSuffix(cpuStr, "m") {
		val := cpuStr[:len(cpuStr)-1]
		var n int64
		fmt.Sscanf(val, "%d", &n)
		return n * 1_000_000
	}
	var f float64
	fmt.Sscanf(cpuStr, "%f", &f)
	return int64(f * 1_000_000_000)
}

// mapRuntimeErr folds Docker client failures into the adapter error taxonomy.
func mapRuntimeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case dockerclient.IsErrConnectionFailed(err):
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	case isExhausted(err):
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	default:
		return err
	}
}

func isExhausted(err error) bool {
	msg := err.Error()
	for _, s := range []string{"no space left", "cannot allocate memory", "out of memory", "disk quota exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (d *DockerAdapter) Materialize(ctx context.Context, profile catalog.Profile, spec Spec) (Handle, error) {
	ok, err := d.ImageExists(ctx, profile)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := d.BuildImage(ctx, profile, nil); err != nil {
			return nil, err
		}
	}

	var pidsLimit *int64
	if profile.PidsLimit > 0 {
		v := profile.PidsLimit
		pidsLimit = &v
	}
	var nanoCPUs, memLimit int64
	if profile.CPULimit != "" {
		nanoCPUs = parseCPUToNanoCPUs(profile.CPULimit)
	}
	if profile.MemoryLimit != "" {
		memLimit, _ = units.RAMInBytes(profile.MemoryLimit)
	}

	containerCfg := &container.Config{
		Image:        profile.Image,
		Cmd:          []string{spec.Shell},
		Env:          []string{"TERM=xterm-256color"},
		Tty:          true,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Labels: map[string]string{
			"managed-by": labelManagedBy,
			"profile":    profile.Name,
		},
	}

	hostCfg := &container.HostConfig{
		ConsoleSize: [2]uint{uint(spec.Rows), uint(spec.Cols)},
		Resources: container.Resources{
			NanoCPUs:  nanoCPUs,
			Memory:    memLimit,
			PidsLimit: pidsLimit,
		},
	}

	resp, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return nil, mapRuntimeErr(err)
	}

	attach, err := d.client.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		d.Destroy(ctx, resp.ID)
		return nil, mapRuntimeErr(err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attach.Close()
		d.Destroy(ctx, resp.ID)
		return nil, mapRuntimeErr(err)
	}

	return &dockerHandle{
		id:     resp.ID,
		name:   spec.Name,
		client: d.client,
		conn:   attach.Conn,
		reader: attach.Reader,
	}, nil
}

func (d *DockerAdapter) Destroy(ctx context.Context, id string) {
	err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		log.Printf("Remove container %s: %v", id, err)
	}
}

func (d *DockerAdapter) ListRunning(ctx context.Context) ([]string, error) {
	list, err := d.client.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", "managed-by="+labelManagedBy)),
	})
	if err != nil {
		return nil, mapRuntimeErr(err)
	}
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (d *DockerAdapter) ImageExists(ctx context.Context, profile catalog.Profile) (bool, error) {
	_, _, err := d.client.ImageInspectWithRaw(ctx, profile.Image)
	if err == nil {
		return true, nil
	}
	if dockerclient.IsErrNotFound(err) {
		return false, nil
	}
	return false, mapRuntimeErr(err)
}

// BuildImage makes the profile's image available locally: profiles with a
// build directory are built from their Dockerfile, all others are pulled.
// onProgress may be nil.
func (d *DockerAdapter) BuildImage(ctx context.Context, profile catalog.Profile, onProgress func(string)) error {
	if profile.BuildDir != "" {
		return d.buildFromDir(ctx, profile, onProgress)
	}

	reader, err := d.client.ImagePull(ctx, profile.Image, image.PullOptions{})
	if err != nil {
		if dockerclient.IsErrConnectionFailed(err) {
			return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		}
		return &BuildError{Profile: profile.Name, Detail: err.Error()}
	}
	defer reader.Close()
	return drainBuildStream(profile.Name, reader, onProgress)
}

func (d *DockerAdapter) buildFromDir(ctx context.Context, profile catalog.Profile, onProgress func(string)) error {
	buildCtx, err := tarDirectory(profile.BuildDir)
	if err != nil {
		return &BuildError{Profile: profile.Name, Detail: err.Error()}
	}

	resp, err := d.client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{profile.Image},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		if dockerclient.IsErrConnectionFailed(err) {
			return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		}
		return &BuildError{Profile: profile.Name, Detail: err.Error()}
	}
	defer resp.Body.Close()
	return drainBuildStream(profile.Name, resp.Body, onProgress)
}

// drainBuildStream decodes the runtime's JSON progress stream, forwarding
// each chunk to onProgress and converting embedded errors to *BuildError.
func drainBuildStream(profileName string, r io.Reader, onProgress func(string)) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &BuildError{Profile: profileName, Detail: err.Error()}
		}
		if msg.Error != nil {
			return &BuildError{Profile: profileName, Detail: msg.Error.Message}
		}
		if onProgress == nil {
			continue
		}
		if msg.Stream != "" {
			onProgress(strings.TrimRight(msg.Stream, "\n"))
		} else if msg.Status != "" {
			onProgress(msg.Status)
		}
	}
}

func (d *DockerAdapter) Stats(ctx context.Context, id string) (Usage, error) {
	resp, err := d.client.ContainerStats(ctx, id, false)
	if err != nil {
		return Usage{}, mapRuntimeErr(err)
	}
	defer resp.Body.Close()

	var s container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Usage{}, fmt.Errorf("decode stats for %s: %w", id, err)
	}

	u := Usage{
		RuntimeID:   id,
		MemoryBytes: s.MemoryStats.Usage,
		MemoryLimit: s.MemoryStats.Limit,
		Pids:        s.PidsStats.Current,
	}

	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if cpuDelta > 0 && sysDelta > 0 {
		cpus := float64(s.CPUStats.OnlineCPUs)
		if cpus == 0 {
			cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
		}
		u.CPUPercent = cpuDelta / sysDelta * cpus * 100.0
	}

	for _, n := range s.Networks {
		u.NetRxBytes += n.RxBytes
		u.NetTxBytes += n.TxBytes
	}
	for _, b := range s.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(b.Op) {
		case "read":
			u.BlockRead += b.Value
		case "write":
			u.BlockWrite += b.Value
		}
	}
	return u, nil
}

// dockerHandle is the Docker-backed execution handle: a hijacked attach
// stream plus resize/close plumbing. The container runs with a TTY so the
// output stream is raw bytes, not the multiplexed log format.
type dockerHandle struct {
	id     string
	name   string
	client *dockerclient.Client
	conn   net.Conn
	reader *bufio.Reader

	mu     sync.Mutex
	closed bool
}

func (h *dockerHandle) ID() string   { return h.id }
func (h *dockerHandle) Name() string { return h.name }

func (h *dockerHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return 0, ErrHandleClosed
	}
	n, err := h.conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrHandleClosed, err)
	}
	return n, nil
}

func (h *dockerHandle) Resize(ctx context.Context, cols, rows uint16) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrHandleClosed
	}
	err := h.client.ContainerResize(ctx, h.id, container.ResizeOptions{
		Width:  uint(cols),
		Height: uint(rows),
	})
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return ErrHandleClosed
		}
		return mapRuntimeErr(err)
	}
	return nil
}

func (h *dockerHandle) Output() io.Reader { return h.reader }

func (h *dockerHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.conn.Close()
}

var _ Adapter = (*DockerAdapter)(nil)
