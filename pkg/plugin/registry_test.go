package plugin

import (
	"context"
	"errors"
	"testing"

	"firestige.xyz/resmeter/internal/core"
	"firestige.xyz/resmeter/internal/stats"
)

type mockPlugin struct {
	name        string
	initErr     error
	initCalled  bool
	startCalled bool
	stopCalled  bool
}

func (m *mockPlugin) Name() string { return m.name }

func (m *mockPlugin) Init(cfg map[string]any) error {
	m.initCalled = true
	return m.initErr
}

func (m *mockPlugin) Start(ctx context.Context) error {
	m.startCalled = true
	return nil
}

func (m *mockPlugin) Stop(ctx context.Context) error {
	m.stopCalled = true
	return nil
}

type mockCapturer struct {
	mockPlugin
}

func (m *mockCapturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	<-ctx.Done()
	return nil
}

func (m *mockCapturer) Stats() CaptureStats { return CaptureStats{} }

type mockReporter struct {
	mockPlugin
	reported int
}

func (m *mockReporter) Report(ctx context.Context, snap stats.Snapshot) error {
	m.reported++
	return nil
}

func (m *mockReporter) Flush(ctx context.Context) error { return nil }

var (
	_ Capturer = (*mockCapturer)(nil)
	_ Reporter = (*mockReporter)(nil)
)

func TestRegisterAndGetCapturer(t *testing.T) {
	capturerReg.Reset()

	RegisterCapturer("test_cap", func() Capturer {
		return &mockCapturer{mockPlugin: mockPlugin{name: "test_cap"}}
	})

	factory, err := GetCapturerFactory("test_cap")
	if err != nil {
		t.Fatalf("GetCapturerFactory failed: %v", err)
	}
	if instance := factory(); instance.Name() != "test_cap" {
		t.Errorf("Expected name 'test_cap', got %s", instance.Name())
	}
}

func TestRegisterAndGetReporter(t *testing.T) {
	reporterReg.Reset()

	RegisterReporter("test_rep", func() Reporter {
		return &mockReporter{mockPlugin: mockPlugin{name: "test_rep"}}
	})

	factory, err := GetReporterFactory("test_rep")
	if err != nil {
		t.Fatalf("GetReporterFactory failed: %v", err)
	}
	if instance := factory(); instance.Name() != "test_rep" {
		t.Errorf("Expected name 'test_rep', got %s", instance.Name())
	}
}

func TestGetNotFoundReturnsError(t *testing.T) {
	capturerReg.Reset()
	reporterReg.Reset()

	_, err := GetCapturerFactory("nonexistent")
	if !errors.Is(err, core.ErrPluginNotFound) {
		t.Errorf("Expected ErrPluginNotFound, got %v", err)
	}

	_, err = GetReporterFactory("nonexistent")
	if !errors.Is(err, core.ErrPluginNotFound) {
		t.Errorf("Expected ErrPluginNotFound, got %v", err)
	}
}

func TestDuplicateRegisterPanics(t *testing.T) {
	capturerReg.Reset()

	RegisterCapturer("dup", func() Capturer {
		return &mockCapturer{mockPlugin: mockPlugin{name: "dup"}}
	})

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for duplicate registration")
		}
	}()
	RegisterCapturer("dup", func() Capturer {
		return &mockCapturer{mockPlugin: mockPlugin{name: "dup"}}
	})
}

func TestEmptyNamePanics(t *testing.T) {
	capturerReg.Reset()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for empty name")
		}
	}()
	RegisterCapturer("", func() Capturer {
		return &mockCapturer{}
	})
}

func TestNilFactoryPanics(t *testing.T) {
	reporterReg.Reset()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for nil factory")
		}
	}()
	RegisterReporter("test", nil)
}

func TestList(t *testing.T) {
	capturerReg.Reset()
	reporterReg.Reset()

	RegisterCapturer("cap_c", func() Capturer { return &mockCapturer{mockPlugin: mockPlugin{name: "cap_c"}} })
	RegisterCapturer("cap_a", func() Capturer { return &mockCapturer{mockPlugin: mockPlugin{name: "cap_a"}} })
	RegisterCapturer("cap_b", func() Capturer { return &mockCapturer{mockPlugin: mockPlugin{name: "cap_b"}} })

	capList := ListCapturers()
	if len(capList) != 3 {
		t.Fatalf("Expected 3 capturers, got %d", len(capList))
	}
	if capList[0] != "cap_a" || capList[1] != "cap_b" || capList[2] != "cap_c" {
		t.Errorf("Expected sorted [cap_a, cap_b, cap_c], got %v", capList)
	}

	if repList := ListReporters(); len(repList) != 0 {
		t.Errorf("Expected 0 reporters, got %d", len(repList))
	}
}

func TestTypeSeparation(t *testing.T) {
	capturerReg.Reset()
	reporterReg.Reset()

	name := "common_name"
	RegisterCapturer(name, func() Capturer { return &mockCapturer{mockPlugin: mockPlugin{name: "cap"}} })
	RegisterReporter(name, func() Reporter { return &mockReporter{mockPlugin: mockPlugin{name: "rep"}} })

	capFactory, err := GetCapturerFactory(name)
	if err != nil {
		t.Fatalf("GetCapturerFactory failed: %v", err)
	}
	if capFactory().Name() != "cap" {
		t.Error("capturer factory returned wrong instance")
	}

	repFactory, err := GetReporterFactory(name)
	if err != nil {
		t.Fatalf("GetReporterFactory failed: %v", err)
	}
	if repFactory().Name() != "rep" {
		t.Error("reporter factory returned wrong instance")
	}
}

func TestNewCapturerRunsInit(t *testing.T) {
	capturerReg.Reset()

	var created *mockCapturer
	RegisterCapturer("ok", func() Capturer {
		created = &mockCapturer{mockPlugin: mockPlugin{name: "ok"}}
		return created
	})
	RegisterCapturer("bad", func() Capturer {
		return &mockCapturer{mockPlugin: mockPlugin{name: "bad", initErr: errors.New("no device")}}
	})

	if _, err := NewCapturer("ok", nil); err != nil {
		t.Fatalf("NewCapturer failed: %v", err)
	}
	if !created.initCalled {
		t.Error("Init was not called")
	}

	_, err := NewCapturer("bad", nil)
	if !errors.Is(err, core.ErrPluginInitFailed) {
		t.Errorf("Expected ErrPluginInitFailed, got %v", err)
	}

	_, err = NewCapturer("missing", nil)
	if !errors.Is(err, core.ErrPluginNotFound) {
		t.Errorf("Expected ErrPluginNotFound, got %v", err)
	}
}

func TestNewReporterRunsInit(t *testing.T) {
	reporterReg.Reset()
	RegisterReporter("rep", func() Reporter {
		return &mockReporter{mockPlugin: mockPlugin{name: "rep"}}
	})

	r, err := NewReporter("rep", map[string]any{"format": "json"})
	if err != nil {
		t.Fatalf("NewReporter failed: %v", err)
	}
	if err := r.Report(context.Background(), stats.Snapshot{}); err != nil {
		t.Errorf("Report failed: %v", err)
	}
	if r.(*mockReporter).reported != 1 {
		t.Error("Report was not recorded")
	}
}
