package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/leafscan/analysis"
	"github.com/nvr-ai/leafscan/config"
	"github.com/nvr-ai/leafscan/images"
	"github.com/nvr-ai/leafscan/inference"
	"github.com/nvr-ai/leafscan/profiler"
	"github.com/nvr-ai/leafscan/render"
	"github.com/nvr-ai/leafscan/store"
	"github.com/nvr-ai/leafscan/util"
)

// flags are the command line settings. Values only override the loaded
// options when the flag was given explicitly.
type flags struct {
	configPath      string
	detectorModel   string
	classifierModel string
	confidence      float64
	iou             float64
	maxDetections   int
	padding         int
	filter          string
	classAware      bool
	provider        string
	onnxRuntime     string
	threads         int
	workers         int
	imageWorkers    int
	outputDir       string
	noSave          bool
	noClassify      bool
	dbPath          string
	jsonOutput      bool
	logLevel        string
	profile         bool
	centerColor     string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	defaults := config.Default()

	var f flags
	fs := flag.NewFlagSet("leafscan", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: leafscan [flags] <image|dir>...\n\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&f.configPath, "config", "", "YAML options file")
	fs.StringVar(&f.detectorModel, "detector-model", defaults.Detector.ModelPath, "Path to the leaf detector ONNX model")
	fs.StringVar(&f.classifierModel, "classifier-model", defaults.Classifier.ModelPath, "Path to the disease classifier ONNX model")
	fs.Float64Var(&f.confidence, "confidence", float64(defaults.ConfidenceThreshold), "Detection confidence threshold")
	fs.Float64Var(&f.iou, "iou", float64(defaults.IoUThreshold), "Non-maximum suppression IoU threshold")
	fs.IntVar(&f.maxDetections, "max-detections", defaults.MaxDetections, "Maximum leaves per image (0 keeps all)")
	fs.IntVar(&f.padding, "padding", defaults.RegionPadding, "Padding around each leaf region, in pixels")
	fs.StringVar(&f.filter, "filter", defaults.LeafFilter, "Leaf filter: none, individual or precise")
	fs.BoolVar(&f.classAware, "class-aware", defaults.ClassAware, "Only suppress overlapping boxes of the same class")
	fs.StringVar(&f.provider, "provider", defaults.Provider, "Execution provider: cpu, cuda, coreml or openvino")
	fs.StringVar(&f.onnxRuntime, "onnxruntime", "", "ONNX Runtime shared library (default $"+inference.SharedLibraryEnv+")")
	fs.IntVar(&f.threads, "threads", defaults.Threads, "Intra-op threads per session (0 = runtime default)")
	fs.IntVar(&f.workers, "workers", defaults.Workers, "Concurrent leaf classifications per image")
	fs.IntVar(&f.imageWorkers, "image-workers", defaults.ImageWorkers, "Concurrent images")
	fs.StringVar(&f.outputDir, "output-dir", defaults.OutputDir, "Directory for annotated images and manifests")
	fs.BoolVar(&f.noSave, "no-save", false, "Do not write annotated images and manifests")
	fs.BoolVar(&f.noClassify, "no-classify", false, "Only detect and extract leaves")
	fs.StringVar(&f.dbPath, "db", "", "Record results in this SQLite database")
	fs.BoolVar(&f.jsonOutput, "json", false, "Print results as JSON")
	fs.StringVar(&f.logLevel, "log-level", defaults.LogLevel, "Log level")
	fs.BoolVar(&f.profile, "profile", false, "Log phase timings at the end")
	fs.StringVar(&f.centerColor, "center-color", "", "Print the center pixel color of an image and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	opts, err := loadOptions(fs, f)
	if err != nil {
		logger.WithError(err).Error("invalid options")
		return 2
	}
	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		logger.WithError(err).Error("invalid log level")
		return 2
	}
	logger.SetLevel(level)

	if f.centerColor != "" {
		return printCenterColor(f.centerColor, stdout, logger)
	}

	paths, err := util.ExpandImagePaths(fs.Args())
	if err != nil {
		logger.WithError(err).Error("failed to read inputs")
		return 1
	}
	if len(paths) == 0 {
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	models := analysis.NewModels(opts, logger)
	defer models.Close()

	prof := profiler.New(0)
	svcOpts := []analysis.Option{
		analysis.WithLoader(models.Load),
		analysis.WithRenderer(render.NewAnnotator()),
		analysis.WithLogger(logger),
		analysis.WithProfiler(prof),
	}
	if opts.DatabasePath != "" {
		db, err := store.Open(opts.DatabasePath)
		if err != nil {
			logger.WithError(err).Error("failed to open database")
			return 1
		}
		defer db.Close()
		svcOpts = append(svcOpts, analysis.WithRecorder(db))
	}

	svc := analysis.NewService(analysis.NewConfig(opts), svcOpts...)
	results := svc.ProcessBatch(ctx, paths)

	if f.profile {
		prof.Report(logger)
		for path, m := range models.Metrics() {
			logger.WithFields(logrus.Fields{
				"model":   path,
				"runs":    m.InferenceCount,
				"average": m.Average(),
			}).Info("inference timing")
		}
	}

	if f.jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			logger.WithError(err).Error("failed to encode results")
			return 1
		}
	} else {
		printSummary(results, stdout)
	}

	for _, r := range results {
		if !r.Success {
			return 1
		}
	}
	return 0
}

// loadOptions merges the defaults, the optional YAML file and the explicitly
// set flags, then validates the result.
func loadOptions(fs *flag.FlagSet, f flags) (config.Options, error) {
	opts := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return opts, err
		}
		opts = loaded
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "detector-model":
			opts.Detector.ModelPath = f.detectorModel
		case "classifier-model":
			opts.Classifier.ModelPath = f.classifierModel
		case "confidence":
			opts.ConfidenceThreshold = float32(f.confidence)
		case "iou":
			opts.IoUThreshold = float32(f.iou)
		case "max-detections":
			opts.MaxDetections = f.maxDetections
		case "padding":
			opts.RegionPadding = f.padding
		case "filter":
			opts.LeafFilter = f.filter
		case "class-aware":
			opts.ClassAware = f.classAware
		case "provider":
			opts.Provider = f.provider
		case "onnxruntime":
			opts.SharedLibraryPath = f.onnxRuntime
		case "threads":
			opts.Threads = f.threads
		case "workers":
			opts.Workers = f.workers
		case "image-workers":
			opts.ImageWorkers = f.imageWorkers
		case "output-dir":
			opts.OutputDir = f.outputDir
		case "db":
			opts.DatabasePath = f.dbPath
		case "log-level":
			opts.LogLevel = f.logLevel
		}
	})
	if f.noSave {
		opts.OutputDir = ""
	}
	if f.noClassify {
		opts.Classify = false
	}
	return opts, opts.Validate()
}

func printCenterColor(path string, w io.Writer, logger logrus.FieldLogger) int {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).Error("failed to read image")
		return 1
	}
	info, err := images.DetectFormat(data)
	if err != nil {
		logger.WithError(err).Error("failed to read image header")
		return 1
	}
	img, err := images.Decode(data)
	if err != nil {
		logger.WithError(err).Error("failed to decode image")
		return 1
	}
	c := images.CenterColor(img)
	b := img.Bounds()
	fmt.Fprintf(w, "%s %s %dx%d center (%d,%d): R=%d G=%d B=%d #%02x%02x%02x\n",
		path, info.Format, b.Dx(), b.Dy(), b.Dx()/2, b.Dy()/2, c.R, c.G, c.B, c.R, c.G, c.B)
	return 0
}

func printSummary(results []*analysis.AnalysisResult, w io.Writer) {
	for _, r := range results {
		if !r.Success {
			fmt.Fprintf(w, "%s: FAILED %s\n", r.ImagePath, r.Error)
			continue
		}
		s := r.Summary()
		fmt.Fprintf(w, "%s: %d leaves, %d classified, %d failed (%s)\n",
			r.ImagePath, s.Leaves, s.Classified, s.Failed, r.TotalTime().Round(time.Millisecond))
		for _, c := range s.Classes {
			fmt.Fprintf(w, "  %-40s %3d  mean confidence %.1f%%\n", c.Label, c.Count, 100*c.MeanConfidence)
		}
		for _, rec := range r.Records {
			if rec.Failed() {
				fmt.Fprintf(w, "  leaf #%d: %s\n", rec.ID(), strings.TrimSpace(rec.Error))
			}
		}
		if r.OutputPath != "" {
			fmt.Fprintf(w, "  saved %s\n", r.OutputPath)
		}
		if r.SaveError != "" {
			fmt.Fprintf(w, "  save failed: %s\n", r.SaveError)
		}
	}
}
