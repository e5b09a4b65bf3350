package app

import (
	"context"
	"fmt"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"steward/internal/configbundle"
	"steward/internal/operator"
	"steward/internal/reconciler"
	stewardv1alpha1 "steward/pkg/apis/steward/v1alpha1"
	"steward/pkg/logging"
)

// Services holds the operator and the controllers registered with it.
type Services struct {
	// Operator owns the shared cache and client and runs every controller.
	Operator *operator.Operator

	// ConfigBundles reconciles ConfigBundle resources.
	ConfigBundles *reconciler.Controller[*stewardv1alpha1.ConfigBundle]

	bundleTriggers chan reconciler.ResourceID
}

// InitializeServices connects to the cluster, creates the operator and
// registers all controllers.
func InitializeServices(cfg *Config) (*Services, error) {
	restConfig, err := loadRESTConfig(cfg.StewardConfig.Operator.Kubeconfig)
	if err != nil {
		return nil, err
	}

	op, err := operator.New(*cfg.StewardConfig, restConfig)
	if err != nil {
		return nil, err
	}
	return registerControllers(op)
}

// registerControllers adds every steward controller to op.
func registerControllers(op *operator.Operator) (*Services, error) {
	triggers := make(chan reconciler.ResourceID)
	bundles, err := configbundle.Setup(op, configbundle.Options{Triggers: triggers})
	if err != nil {
		return nil, fmt.Errorf("failed to register %s controller: %w", configbundle.ControllerName, err)
	}
	logging.Info("Services", "Registered controllers: %s", bundles.Name())

	return &Services{
		Operator:       op,
		ConfigBundles:  bundles,
		bundleTriggers: triggers,
	}, nil
}

// ResyncConfigBundles requests a resync of every ConfigBundle in the watched
// namespaces and returns how many were requested.
func (s *Services) ResyncConfigBundles(ctx context.Context) (int, error) {
	namespaces := s.Operator.Config().Operator.Namespaces
	if len(namespaces) == 0 {
		namespaces = []string{""}
	}

	requested := 0
	for _, ns := range namespaces {
		var list stewardv1alpha1.ConfigBundleList
		if err := s.Operator.Client().List(ctx, &list, client.InNamespace(ns)); err != nil {
			return requested, fmt.Errorf("failed to list ConfigBundles: %w", err)
		}
		for i := range list.Items {
			select {
			case s.bundleTriggers <- reconciler.IDFor(&list.Items[i]):
				requested++
			case <-ctx.Done():
				return requested, ctx.Err()
			}
		}
	}
	return requested, nil
}

// loadRESTConfig reads kubeconfig when set and otherwise falls back to the
// controller-runtime lookup ($KUBECONFIG, in-cluster, ~/.kube/config).
func loadRESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig %s: %w", kubeconfig, err)
		}
		return restConfig, nil
	}

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get Kubernetes config: %w", err)
	}
	return restConfig, nil
}
