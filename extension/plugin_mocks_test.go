package extension

import (
	"github.com/stretchr/testify/mock"
	"github.com/toolink/bridge/apps"
)

// mockPlugin is a mock implementation of the Plugin interface
type mockPlugin struct {
	mock.Mock
}

// newMockPlugin creates a mockPlugin answering the identity accessors with
// the given values.
func newMockPlugin(channel, library, version string) *mockPlugin {
	m := &mockPlugin{}
	m.On("ChannelName").Return(channel).Maybe()
	m.On("LibraryName").Return(library).Maybe()
	m.On("LibraryVersion").Return(version).Maybe()
	return m
}

func (m *mockPlugin) ConstantsForApp(app apps.Instance) map[string]any {
	args := m.Called(app)
	if v := args.Get(0); v != nil {
		return v.(map[string]any)
	}
	return nil
}

func (m *mockPlugin) LibraryName() string {
	return m.Called().String(0)
}

func (m *mockPlugin) LibraryVersion() string {
	return m.Called().String(0)
}

func (m *mockPlugin) ChannelName() string {
	return m.Called().String(0)
}

// lifecyclePlugin adds Attacher and Reinitializer to mockPlugin
type lifecyclePlugin struct {
	*mockPlugin
	log *[]string
}

func newLifecyclePlugin(channel string, log *[]string) *lifecyclePlugin {
	return &lifecyclePlugin{
		mockPlugin: newMockPlugin(channel, channel+"-lib", "1.0.0"),
		log:        log,
	}
}

func (p *lifecyclePlugin) Attach() error {
	*p.log = append(*p.log, "attach:"+p.ChannelName())
	return p.Called().Error(0)
}

func (p *lifecyclePlugin) Detach() error {
	*p.log = append(*p.log, "detach:"+p.ChannelName())
	return p.Called().Error(0)
}

func (p *lifecyclePlugin) DidReinitialize() error {
	*p.log = append(*p.log, "reinit:"+p.ChannelName())
	return p.Called().Error(0)
}
