package main

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/textlogger"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlcache "sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/nixbuilder/nixbuild-engine/pkg/controller"
	"github.com/nixbuilder/nixbuild-engine/pkg/events"
	"github.com/nixbuilder/nixbuild-engine/pkg/job"
	"github.com/nixbuilder/nixbuild-engine/pkg/metrics"
	"github.com/nixbuilder/nixbuild-engine/pkg/statussync"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/cli"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/env"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/errors"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/kube/scheme"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/tracing"
)

const leaderElectionID = "nixbuild-controller.build.example.com"

type settings struct {
	namespace            string
	natsURL              string
	metricsAddr          string
	probeAddr            string
	leaderElect          bool
	concurrentReconciles int
	shortRequeue         time.Duration
	longRequeue          time.Duration
	jobOptions           job.Options
}

func newCmd(log logr.Logger, logConfig *textlogger.Config) *cobra.Command {
	var (
		clientConfig clientcmd.ClientConfig
		s            settings
	)
	defaults := job.DefaultOptions()
	cmd := cobra.Command{
		Use:   "build-controller",
		Short: "Runs build jobs for BuildRequests and keeps their status current",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl.SetLogger(log)
			klog.SetLogger(log)
			config, err := clientConfig.ClientConfig()
			errors.CheckErrorWithCode(err, errors.ErrorConnectionFailure, log)
			return run(log, config, s)
		},
	}
	clientConfig = cli.AddKubectlFlagsToSet(cmd.PersistentFlags())
	cli.AddLogFlags(cmd.PersistentFlags(), logConfig)

	flags := cmd.Flags()
	flags.StringVar(&s.namespace, "namespace", env.StringFromEnv("NIXBUILD_NAMESPACE", statussync.DefaultNamespace), "Namespace to watch BuildRequests in")
	flags.StringVar(&s.natsURL, "nats-url", env.StringFromEnv("NATS_URL", events.DefaultNATSURL), "NATS server URL")
	flags.StringVar(&s.metricsAddr, "metrics-addr", ":8080", "The address the metric endpoint binds to")
	flags.StringVar(&s.probeAddr, "probe-addr", ":8081", "The address the probe endpoint binds to")
	flags.BoolVar(&s.leaderElect, "leader-elect", env.ParseBoolFromEnv("NIXBUILD_LEADER_ELECT", false), "Enable leader election so only one replica reconciles and consumes status events")
	flags.IntVar(&s.concurrentReconciles, "concurrent-reconciles", env.ParseNumFromEnv(log, "NIXBUILD_CONCURRENT_RECONCILES", 4, 1, 100), "Max concurrent reconciles")
	flags.DurationVar(&s.shortRequeue, "short-requeue", env.DurationFromEnv(log, "NIXBUILD_SHORT_REQUEUE", controller.DefaultShortRequeue), "Requeue interval while a build job runs")
	flags.DurationVar(&s.longRequeue, "long-requeue", env.DurationFromEnv(log, "NIXBUILD_LONG_REQUEUE", controller.DefaultLongRequeue), "Requeue interval once a build job settled")
	flags.StringVar(&s.jobOptions.Image, "builder-image", env.StringFromEnv("NIXBUILD_BUILDER_IMAGE", defaults.Image), "Image of the build job container")
	flags.StringVar(&s.jobOptions.CacheURL, "cache-address", env.StringFromEnv("NIXBUILD_CACHE_ADDRESS", defaults.CacheURL), "Nix binary cache the build jobs substitute from")
	flags.StringVar(&s.jobOptions.RegistrySecret, "registry-secret", env.StringFromEnv("NIXBUILD_REGISTRY_SECRET", defaults.RegistrySecret), "Secret holding the image registry credentials")
	flags.StringVar(&s.jobOptions.PullSecret, "pull-secret", env.StringFromEnv("NIXBUILD_PULL_SECRET", defaults.PullSecret), "Image pull secret of the build job")
	return &cmd
}

func run(log logr.Logger, config *rest.Config, s settings) error {
	mgr, err := ctrl.NewManager(config, ctrl.Options{
		Scheme: scheme.Scheme,
		Metrics: metricsserver.Options{
			BindAddress: s.metricsAddr,
		},
		HealthProbeBindAddress:  s.probeAddr,
		LeaderElection:          s.leaderElect,
		LeaderElectionID:        leaderElectionID,
		LeaderElectionNamespace: s.namespace,
		Cache: ctrlcache.Options{
			DefaultNamespaces: map[string]ctrlcache.Config{
				s.namespace: {},
			},
		},
	})
	errors.CheckErrorWithCode(err, errors.ErrorConnectionFailure, log)

	bus, err := events.Connect(s.natsURL, "build-controller", log.WithName("bus"))
	errors.CheckErrorWithCode(err, errors.ErrorConnectionFailure, log)
	defer bus.Close()

	m := metrics.NewMetrics(crmetrics.Registry)
	s.jobOptions.NATSURL = s.natsURL
	reconciler := &controller.BuildRequestReconciler{
		Client:       mgr.GetClient(),
		Recorder:     mgr.GetEventRecorderFor(controller.ControllerName),
		Log:          log.WithName("controller"),
		JobOptions:   s.jobOptions,
		Metrics:      m,
		Tracer:       tracing.FromEnv(log.WithName("tracing")),
		ShortRequeue: s.shortRequeue,
		LongRequeue:  s.longRequeue,
	}
	errors.CheckError(reconciler.SetupWithManager(mgr, s.concurrentReconciles), log)

	synchronizer := statussync.NewSynchronizer(mgr.GetClient(), bus,
		statussync.WithLogr(log.WithName("statussync")),
		statussync.WithNamespace(s.namespace),
		statussync.WithAPIReader(mgr.GetAPIReader()),
		statussync.WithMetrics(m))
	errors.CheckError(mgr.Add(synchronizer), log)
	errors.CheckError(mgr.AddHealthzCheck("healthz", healthz.Ping), log)
	errors.CheckError(mgr.AddReadyzCheck("readyz", healthz.Ping), log)

	log.Info("Starting build controller", "namespace", s.namespace, "nats", s.natsURL, "concurrentReconciles", s.concurrentReconciles)
	return mgr.Start(ctrl.SetupSignalHandler())
}

func main() {
	logConfig := textlogger.NewConfig()
	log := textlogger.NewLogger(logConfig)
	err := newCmd(log, logConfig).Execute()
	errors.CheckError(err, log)
}
