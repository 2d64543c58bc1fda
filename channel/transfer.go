package channel

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/crucible-sec/crucible/errors"
	"github.com/crucible-sec/crucible/runtime"
)

// UploadFile copies a local file into destDir inside the container via an
// archive transfer.
func (c *Channel) UploadFile(ctx context.Context, containerName, localPath, destDir string) error {
	info, err := c.runtime.FindContainer(ctx, containerName)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", localPath)
	}
	stat, err := os.Stat(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", localPath)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name: filepath.Base(localPath),
		Mode: int64(stat.Mode().Perm()),
		Size: int64(len(data)),
	}); err != nil {
		return errors.Wrap(err, "failed to write tar header")
	}
	if _, err := tw.Write(data); err != nil {
		return errors.Wrap(err, "failed to write tar payload")
	}
	if err := tw.Close(); err != nil {
		return errors.Wrap(err, "failed to finalize archive")
	}

	return c.runtime.CopyTo(ctx, info.ID, destDir, &buf)
}

// DownloadFile copies a file out of the container to localPath. The runtime
// returns a tar archive; the first regular file entry is extracted.
func (c *Channel) DownloadFile(ctx context.Context, containerName, srcPath, localPath string) error {
	info, err := c.runtime.FindContainer(ctx, containerName)
	if err != nil {
		return err
	}

	rc, err := c.runtime.CopyFrom(ctx, info.ID, srcPath)
	if err != nil {
		return err
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return errors.Newf("no file entry in archive for %s", srcPath)
		}
		if err != nil {
			return errors.Wrap(err, "failed to read archive")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		out, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			return errors.Wrapf(err, "failed to create %s", localPath)
		}
		_, err = io.Copy(out, tr)
		closeErr := out.Close()
		if err != nil {
			return errors.Wrapf(err, "failed to write %s", localPath)
		}
		return closeErr
	}
}

// ContainerStatus inspects the container and reports its runtime state.
func (c *Channel) ContainerStatus(ctx context.Context, containerName string) (*runtime.ContainerInfo, error) {
	return c.runtime.FindContainer(ctx, containerName)
}

// Logs retrieves up to tail lines of the container's log stream.
func (c *Channel) Logs(ctx context.Context, containerName string, tail int) ([]byte, error) {
	info, err := c.runtime.FindContainer(ctx, containerName)
	if err != nil {
		return nil, err
	}
	return c.runtime.Logs(ctx, info.ID, tail)
}

// StartContainer starts a stopped container.
func (c *Channel) StartContainer(ctx context.Context, containerName string) error {
	info, err := c.runtime.FindContainer(ctx, containerName)
	if err != nil {
		return err
	}
	return c.runtime.StartContainer(ctx, info.ID)
}

// StopContainer stops a running container.
func (c *Channel) StopContainer(ctx context.Context, containerName string) error {
	info, err := c.runtime.FindContainer(ctx, containerName)
	if err != nil {
		return err
	}
	return c.runtime.StopContainer(ctx, info.ID)
}

// RestartContainer restarts a container.
func (c *Channel) RestartContainer(ctx context.Context, containerName string) error {
	info, err := c.runtime.FindContainer(ctx, containerName)
	if err != nil {
		return err
	}
	return c.runtime.RestartContainer(ctx, info.ID)
}
