package stage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/1003xuexue/mobile-ai-bench/internal/adb"
	"github.com/1003xuexue/mobile-ai-bench/internal/model"
)

// Label files pushed alongside the binary for precision runs.
var precisionLabelFiles = []string{
	"imagenet_blacklist.txt",
	"imagenet_groundtruth_labels.txt",
	"mobilenet_model_labels.txt",
}

// Paths locates the runtime libraries staged onto devices. Zero-value fields
// fall back to the conventional workspace layout.
type Paths struct {
	// BuildRoot is the build output tree holding fetched external runtimes.
	BuildRoot string
	// ThirdParty holds vendored runtime libraries.
	ThirdParty string
	// LabelsDir holds the ImageNet reference label files.
	LabelsDir string
	// NDKHome is the Android NDK installation, source of libgnustl.
	NDKHome string
}

func (p Paths) withDefaults() Paths {
	if p.BuildRoot == "" {
		p.BuildRoot = "bazel-mobile-ai-bench"
	}
	if p.ThirdParty == "" {
		p.ThirdParty = "third_party"
	}
	if p.LabelsDir == "" {
		p.LabelsDir = "aibench/benchmark/imagenet"
	}
	if p.NDKHome == "" {
		p.NDKHome = os.Getenv("ANDROID_NDK_HOME")
	}
	return p
}

// Environment stages the executor runtime libraries and precision reference
// data a benchmark binary needs on-device.
type Environment struct {
	stager *Stager
	bridge *adb.Client
	paths  Paths
	logger *zap.Logger
}

// NewEnvironment creates an environment stager resolving libraries under the
// given paths.
func NewEnvironment(stager *Stager, bridge *adb.Client, paths Paths, logger *zap.Logger) *Environment {
	return &Environment{
		stager: stager,
		bridge: bridge,
		paths:  paths.withDefaults(),
		logger: logger.Named("env"),
	}
}

// Stage pushes the shared libraries required by the executor set on the given
// ABI. ABIs without a matching library resolve to an empty path and are
// skipped; not every executor supports every ABI.
func (e *Environment) Stage(ctx context.Context, serial, abi, remoteDir string, executors []model.ExecutorType) error {
	if p := e.visionLib(abi); p != "" {
		if err := e.stager.PushTree(ctx, serial, p, remoteDir); err != nil {
			return err
		}
	}

	wanted := make(map[model.ExecutorType]bool, len(executors))
	for _, ex := range executors {
		wanted[ex] = true
	}

	if wanted[model.ExecutorSNPE] {
		if dir := e.snpeLibDir(abi); dir != "" {
			if err := e.stager.PushTree(ctx, serial, dir, remoteDir); err != nil {
				return err
			}
			gnustl := filepath.Join(e.paths.NDKHome,
				"sources/cxx-stl/gnu-libstdc++/4.9/libs", abi, "libgnustl_shared.so")
			if err := e.stager.PushTree(ctx, serial, gnustl, remoteDir); err != nil {
				return err
			}
		}
		dsp := filepath.Join(e.paths.BuildRoot, "external/snpe/lib/dsp")
		if err := e.stager.PushTree(ctx, serial, dsp, remoteDir); err != nil {
			return err
		}
	}

	if wanted[model.ExecutorMACE] && abi == model.ABIArm32 {
		controller := filepath.Join(e.paths.ThirdParty, "mace/nnlib/libhexagon_controller.so")
		if err := e.stager.PushTree(ctx, serial, controller, remoteDir); err != nil {
			return err
		}
	}

	if wanted[model.ExecutorTFLite] {
		if p := e.tfliteLib(abi); p != "" {
			if err := e.stager.PushTree(ctx, serial, p, remoteDir); err != nil {
				return err
			}
		}
	}
	return nil
}

// PushPrecisionFiles stages the reference label files and, when datasetDir is
// set, the input dataset. The dataset lands under <remoteDir>/inputs/ with its
// own top-level directory flattened away, so inputs sit directly where the
// binary looks for them.
func (e *Environment) PushPrecisionFiles(ctx context.Context, serial, remoteDir, datasetDir string) error {
	if _, err := e.bridge.Shell(ctx, serial, "mkdir -p "+remoteDir); err != nil {
		return fmt.Errorf("failed to create %s: %w", remoteDir, err)
	}

	for _, name := range precisionLabelFiles {
		if err := e.stager.PushTree(ctx, serial, filepath.Join(e.paths.LabelsDir, name), remoteDir); err != nil {
			return err
		}
	}

	if datasetDir == "" {
		return nil
	}

	inputs := remoteDir + "/inputs/"
	e.logger.Info("Pushing dataset",
		zap.String("serial", serial),
		zap.String("dataset", datasetDir),
		zap.String("inputs", inputs))

	if _, err := e.bridge.Shell(ctx, serial, "mkdir -p "+inputs); err != nil {
		return fmt.Errorf("failed to create %s: %w", inputs, err)
	}
	if err := e.bridge.Push(ctx, serial, datasetDir, inputs); err != nil {
		return fmt.Errorf("failed to push dataset %s: %w", datasetDir, err)
	}

	base := path.Base(strings.TrimSuffix(datasetDir, "/"))
	flatten := fmt.Sprintf("mv %s/* %s", inputs+base, inputs)
	if _, err := e.bridge.Shell(ctx, serial, flatten); err != nil {
		return fmt.Errorf("failed to flatten dataset under %s: %w", inputs, err)
	}
	return nil
}

func (e *Environment) visionLib(abi string) string {
	switch abi {
	case model.ABIArm32, model.ABIArm64:
		return filepath.Join(e.paths.BuildRoot,
			"external/opencv/sdk/native/libs", abi, "libopencv_java3.so")
	}
	return ""
}

func (e *Environment) snpeLibDir(abi string) string {
	switch abi {
	case model.ABIArm32:
		return filepath.Join(e.paths.BuildRoot, "external/snpe/lib/arm-android-gcc4.9")
	case model.ABIArm64:
		return filepath.Join(e.paths.BuildRoot, "external/snpe/lib/aarch64-android-gcc4.9")
	}
	return ""
}

func (e *Environment) tfliteLib(abi string) string {
	switch abi {
	case model.ABIArm32, model.ABIArm64:
		return filepath.Join(e.paths.ThirdParty,
			"tflite/tensorflow/contrib/lite/lib", abi, "libtensorflowLite.so")
	}
	return ""
}
