package main

import (
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/textlogger"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/nixbuilder/nixbuild-engine/pkg/cache"
	"github.com/nixbuilder/nixbuild-engine/pkg/deploy"
	"github.com/nixbuilder/nixbuild-engine/pkg/events"
	"github.com/nixbuilder/nixbuild-engine/pkg/metrics"
	"github.com/nixbuilder/nixbuild-engine/pkg/statussync"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/cli"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/env"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/errors"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/kube/scheme"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/tracing"
)

const leaderElectionID = "nixbuild-deployer.build.example.com"

type settings struct {
	natsURL                 string
	defaultNamespace        string
	fieldManager            string
	producer                string
	resync                  time.Duration
	establishTimeout        time.Duration
	metricsAddr             string
	probeAddr               string
	leaderElect             bool
	leaderElectionNamespace string
}

func newCmd(log logr.Logger, logConfig *textlogger.Config) *cobra.Command {
	var (
		clientConfig clientcmd.ClientConfig
		s            settings
	)
	cmd := cobra.Command{
		Use:   "manifest-deployer",
		Short: "Applies manifests published by build jobs and reports the deployment status",
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
	flags.StringVar(&s.natsURL, "nats-url", env.StringFromEnv("NATS_URL", events.DefaultNATSURL), "NATS server URL")
	flags.StringVar(&s.defaultNamespace, "default-namespace", env.StringFromEnv("NIXBUILD_DEFAULT_NAMESPACE", deploy.DefaultNamespace), "Namespace of manifest documents that do not name one")
	flags.StringVar(&s.fieldManager, "field-manager", env.StringFromEnv("NIXBUILD_FIELD_MANAGER", deploy.DefaultFieldManager), "Field manager of server-side apply")
	flags.StringVar(&s.producer, "producer", env.StringFromEnv("NIXBUILD_PRODUCER", events.DeployerProducer), "Producer token of the status subject results are published on")
	flags.DurationVar(&s.resync, "resync", env.DurationFromEnv(log, "NIXBUILD_DISCOVERY_RESYNC", cache.DefaultResyncInterval), "Interval of API discovery refreshes")
	flags.DurationVar(&s.establishTimeout, "crd-establish-timeout", env.DurationFromEnv(log, "NIXBUILD_CRD_ESTABLISH_TIMEOUT", deploy.DefaultEstablishTimeout), "How long an applied CRD may take to be served")
	flags.StringVar(&s.metricsAddr, "metrics-addr", ":8082", "The address the metric endpoint binds to")
	flags.StringVar(&s.probeAddr, "probe-addr", ":8083", "The address the probe endpoint binds to")
	flags.BoolVar(&s.leaderElect, "leader-elect", env.ParseBoolFromEnv("NIXBUILD_LEADER_ELECT", false), "Enable leader election so only one replica applies manifests")
	flags.StringVar(&s.leaderElectionNamespace, "leader-election-namespace", env.StringFromEnv("POD_NAMESPACE", statussync.DefaultNamespace), "Namespace of the leader election lease")
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
		LeaderElectionNamespace: s.leaderElectionNamespace,
	})
	errors.CheckErrorWithCode(err, errors.ErrorConnectionFailure, log)

	dynamicClient, err := dynamic.NewForConfig(config)
	errors.CheckError(err, log)
	discoveryClient, err := discovery.NewDiscoveryClientForConfig(config)
	errors.CheckError(err, log)
	tracer := tracing.FromEnv(log.WithName("tracing"))
	discoveryCache := cache.NewDiscoveryCache(discoveryClient,
		cache.SetLogr(log.WithName("discovery")),
		cache.SetResyncInterval(s.resync),
		cache.SetTracer(tracer))
	errors.CheckErrorWithCode(discoveryCache.EnsureSynced(), errors.ErrorConnectionFailure, log)

	bus, err := events.Connect(s.natsURL, "manifest-deployer", log.WithName("bus"))
	errors.CheckErrorWithCode(err, errors.ErrorConnectionFailure, log)
	defer bus.Close()

	applier := deploy.NewApplier(dynamicClient, discoveryCache, bus, bus,
		deploy.WithLogr(log.WithName("deploy")),
		deploy.WithFieldManager(s.fieldManager),
		deploy.WithProducer(s.producer),
		deploy.WithDefaultNamespace(s.defaultNamespace),
		deploy.WithEstablishTimeout(s.establishTimeout),
		deploy.WithMetrics(metrics.NewMetrics(crmetrics.Registry)),
		deploy.WithTracer(tracer))
	errors.CheckError(mgr.Add(applier), log)
	errors.CheckError(mgr.AddHealthzCheck("healthz", healthz.Ping), log)
	errors.CheckError(mgr.AddReadyzCheck("discovery", func(_ *http.Request) error {
		return discoveryCache.GetInfo().SyncError
	}), log)

	log.Info("Starting manifest deployer", "nats", s.natsURL, "fieldManager", s.fieldManager, "producer", s.producer)
	return mgr.Start(ctrl.SetupSignalHandler())
}

func main() {
	logConfig := textlogger.NewConfig()
	log := textlogger.NewLogger(logConfig)
	err := newCmd(log, logConfig).Execute()
	errors.CheckError(err, log)
}
