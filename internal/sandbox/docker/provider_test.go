package docker_test

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/kballard/go-shellquote"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox/docker"
)

type mockClient struct{ mock.Mock }

func (m *mockClient) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, refStr, options)
	var rc io.ReadCloser
	if v := args.Get(0); v != nil {
		rc = v.(io.ReadCloser)
	}
	return rc, args.Error(1)
}

func (m *mockClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	args := m.Called(ctx, config, hostConfig, networkingConfig, platform, containerName)
	return args.Get(0).(container.CreateResponse), args.Error(1)
}

func (m *mockClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return m.Called(ctx, containerID, options).Error(0)
}

func (m *mockClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	return m.Called(ctx, containerID, options).Error(0)
}

func (m *mockClient) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	args := m.Called(ctx, containerID)
	return args.Get(0).(container.InspectResponse), args.Error(1)
}

func (m *mockClient) ContainerPause(ctx context.Context, containerID string) error {
	return m.Called(ctx, containerID).Error(0)
}

func (m *mockClient) ContainerUnpause(ctx context.Context, containerID string) error {
	return m.Called(ctx, containerID).Error(0)
}

func (m *mockClient) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	args := m.Called(ctx, containerID, options)
	return args.Get(0).(container.ExecCreateResponse), args.Error(1)
}

func (m *mockClient) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error) {
	args := m.Called(ctx, execID, config)
	return args.Get(0).(types.HijackedResponse), args.Error(1)
}

func (m *mockClient) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	args := m.Called(ctx, execID)
	return args.Get(0).(container.ExecInspect), args.Error(1)
}

func (m *mockClient) CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error {
	return m.Called(ctx, containerID, dstPath, content, options).Error(0)
}

func (m *mockClient) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error) {
	args := m.Called(ctx, containerID, srcPath)
	var rc io.ReadCloser
	if v := args.Get(0); v != nil {
		rc = v.(io.ReadCloser)
	}
	return rc, args.Get(1).(container.PathStat), args.Error(2)
}

func inspectState(state container.State) container.InspectResponse {
	return container.InspectResponse{ContainerJSONBase: &container.ContainerJSONBase{State: &state}}
}

func newProvider(t *testing.T, m *mockClient) *docker.Provider {
	t.Helper()
	p, err := docker.NewProvider(docker.ProviderConfig{Client: m, Logger: log.Noop})
	require.NoError(t, err)
	return p
}

func TestNewProviderInvalidResources(t *testing.T) {
	_, err := docker.NewProvider(docker.ProviderConfig{
		Client:    &mockClient{},
		Resources: model.Resources{MemoryMB: -1},
	})
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestProviderCreate(t *testing.T) {
	tests := map[string]struct {
		template string
		mock     func(m *mockClient)
		expErr   bool
	}{
		"Creating a sandbox should pull, create and start the container.": {
			template: "node:22",
			mock: func(m *mockClient) {
				m.On("ImagePull", mock.Anything, "node:22", mock.Anything).Once().Return(io.NopCloser(strings.NewReader("")), nil)
				m.On("ContainerCreate", mock.Anything, mock.MatchedBy(func(c *container.Config) bool {
					return c.Image == "node:22" && c.Labels["agentbox.managed"] == "true"
				}), mock.Anything, mock.Anything, mock.Anything, mock.AnythingOfType("string")).Once().Return(container.CreateResponse{ID: "c1"}, nil)
				m.On("ContainerStart", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Once().Return(nil)
			},
		},

		"An empty template should use the default image.": {
			mock: func(m *mockClient) {
				m.On("ImagePull", mock.Anything, "node:20-bookworm", mock.Anything).Once().Return(io.NopCloser(strings.NewReader("")), nil)
				m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.AnythingOfType("string")).Once().Return(container.CreateResponse{ID: "c1"}, nil)
				m.On("ContainerStart", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Once().Return(nil)
			},
		},

		"A pull failure should fail the creation.": {
			template: "node:22",
			mock: func(m *mockClient) {
				m.On("ImagePull", mock.Anything, "node:22", mock.Anything).Once().Return(nil, errors.New("registry down"))
			},
			expErr: true,
		},

		"A start failure should remove the created container.": {
			template: "node:22",
			mock: func(m *mockClient) {
				m.On("ImagePull", mock.Anything, "node:22", mock.Anything).Once().Return(io.NopCloser(strings.NewReader("")), nil)
				m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.AnythingOfType("string")).Once().Return(container.CreateResponse{ID: "c1"}, nil)
				m.On("ContainerStart", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Once().Return(errors.New("oci runtime error"))
				m.On("ContainerRemove", mock.Anything, mock.AnythingOfType("string"), container.RemoveOptions{Force: true}).Once().Return(nil)
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := &mockClient{}
			test.mock(m)

			sb, err := newProvider(t, m).Create(context.Background(), test.template)
			if test.expErr {
				assert.Error(t, err)
			} else if assert.NoError(t, err) {
				assert.Contains(t, sb.ID(), "agentbox-")
			}
			m.AssertExpectations(t)
		})
	}
}

func TestProviderConnect(t *testing.T) {
	tests := map[string]struct {
		mock     func(m *mockClient)
		expErr   bool
		expErrIs error
	}{
		"A running container should connect without changes.": {
			mock: func(m *mockClient) {
				m.On("ContainerInspect", mock.Anything, "sb1").Once().Return(inspectState(container.State{Status: "running", Running: true}), nil)
			},
		},

		"A paused container should be unpaused.": {
			mock: func(m *mockClient) {
				m.On("ContainerInspect", mock.Anything, "sb1").Once().Return(inspectState(container.State{Status: "paused", Running: true, Paused: true}), nil)
				m.On("ContainerUnpause", mock.Anything, "sb1").Once().Return(nil)
			},
		},

		"An exited container should be started.": {
			mock: func(m *mockClient) {
				m.On("ContainerInspect", mock.Anything, "sb1").Once().Return(inspectState(container.State{Status: "exited"}), nil)
				m.On("ContainerStart", mock.Anything, "sb1", mock.Anything).Once().Return(nil)
			},
		},

		"A dead container should fail.": {
			mock: func(m *mockClient) {
				m.On("ContainerInspect", mock.Anything, "sb1").Once().Return(inspectState(container.State{Status: "dead", Dead: true}), nil)
			},
			expErr:   true,
			expErrIs: model.ErrNotValid,
		},

		"A missing container should fail with not found.": {
			mock: func(m *mockClient) {
				m.On("ContainerInspect", mock.Anything, "sb1").Once().Return(container.InspectResponse{}, errors.New("Error response from daemon: No such container: sb1"))
			},
			expErr:   true,
			expErrIs: model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := &mockClient{}
			test.mock(m)

			sb, err := newProvider(t, m).Connect(context.Background(), "sb1")
			if test.expErr {
				assert.Error(t, err)
				if test.expErrIs != nil {
					assert.ErrorIs(t, err, test.expErrIs)
				}
			} else if assert.NoError(t, err) {
				assert.Equal(t, "sb1", sb.ID())
			}
			m.AssertExpectations(t)
		})
	}
}

func TestSandboxLifecycleCalls(t *testing.T) {
	ctx := context.Background()
	m := &mockClient{}
	m.On("ContainerInspect", mock.Anything, "sb1").Once().Return(inspectState(container.State{Status: "running", Running: true}), nil)
	m.On("ContainerInspect", mock.Anything, "sb1").Once().Return(inspectState(container.State{Status: "paused", Running: true, Paused: true}), nil)
	m.On("ContainerPause", mock.Anything, "sb1").Once().Return(nil)
	m.On("ContainerRemove", mock.Anything, "sb1", container.RemoveOptions{Force: true}).Once().Return(errors.New("No such container: sb1"))

	p := newProvider(t, m)
	sb, err := p.Connect(ctx, "sb1")
	require.NoError(t, err)

	id, err := sb.Pause(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sb1", id)

	// Paused containers are not alive for the session manager.
	assert.ErrorIs(t, sb.ExtendTimeout(ctx, 0), model.ErrNotValid)

	// Removing an already removed container is idempotent.
	assert.NoError(t, sb.Kill(ctx))
	m.AssertExpectations(t)
}

func TestSandboxWriteFiles(t *testing.T) {
	ctx := context.Background()
	m := &mockClient{}
	m.On("ContainerInspect", mock.Anything, "sb1").Once().Return(inspectState(container.State{Status: "running", Running: true}), nil)

	var gotFiles map[string]string
	m.On("CopyToContainer", mock.Anything, "sb1", "/", mock.Anything, mock.Anything).Once().Run(func(args mock.Arguments) {
		gotFiles = map[string]string{}
		tr := tar.NewReader(args.Get(3).(io.Reader))
		for {
			hdr, err := tr.Next()
			if err != nil {
				return
			}
			data, _ := io.ReadAll(tr)
			gotFiles[hdr.Name] = string(data)
		}
	}).Return(nil)

	sb, err := newProvider(t, m).Connect(ctx, "sb1")
	require.NoError(t, err)

	err = sb.WriteFiles(ctx, []model.FileEntry{
		{Path: "/home/user/project/package.json", Content: []byte(`{"name":"app"}`)},
		{Path: "/home/user/project/src/index.js", Content: []byte("console.log(1)")},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"home/user/project/package.json": `{"name":"app"}`,
		"home/user/project/src/index.js": "console.log(1)",
	}, gotFiles)
	m.AssertExpectations(t)
}

func TestSandboxStartQuotesCommand(t *testing.T) {
	tests := map[string]struct {
		command string
	}{
		"A simple command should be wrapped.": {
			command: "npm run dev",
		},

		"A command with single quotes should keep them.": {
			command: `echo 'it'"'"'s up' && npm run dev -- --host "0.0.0.0"`,
		},

		"A command with shell expansions should not be expanded by the wrapper.": {
			command: `PORT=$((3000 + 1)) npm start; echo $HOME`,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			var cmd []string
			m := &mockClient{}
			m.On("ContainerInspect", mock.Anything, "sb1").Once().Return(inspectState(container.State{Status: "running", Running: true}), nil)
			m.On("ContainerExecCreate", mock.Anything, "sb1", mock.Anything).Once().Run(func(args mock.Arguments) {
				cmd = args.Get(2).(container.ExecOptions).Cmd
			}).Return(container.ExecCreateResponse{}, errors.New("exec failed"))

			sb, err := newProvider(t, m).Connect(context.Background(), "sb1")
			require.NoError(err)
			_, err = sb.Start(context.Background(), test.command, model.RunOpts{})
			require.Error(err)

			// sh -c "nohup <quoted> > <log> 2>&1 & echo $!"
			require.Len(cmd, 3)
			wrapped := cmd[2]
			require.True(strings.HasPrefix(wrapped, "nohup "))
			quoted := wrapped[len("nohup "):strings.LastIndex(wrapped, " > /tmp/")]

			words, err := shellquote.Split(quoted)
			require.NoError(err)
			assert.Equal([]string{"sh", "-c", test.command}, words)
			m.AssertExpectations(t)
		})
	}
}
