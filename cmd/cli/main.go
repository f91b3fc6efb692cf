package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/delivery"
	"github.com/emirozbir/alertflow/internal/formatter"
	"github.com/emirozbir/alertflow/internal/normalize"
	"github.com/emirozbir/alertflow/internal/provider"
	"github.com/emirozbir/alertflow/internal/ui"

	_ "github.com/emirozbir/alertflow/internal/providers/alertmanager"
	_ "github.com/emirozbir/alertflow/internal/providers/kafka"
	_ "github.com/emirozbir/alertflow/internal/providers/kubernetes"
	_ "github.com/emirozbir/alertflow/internal/providers/llm"
	_ "github.com/emirozbir/alertflow/internal/providers/webhook"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	tenantID := flag.String("tenant", "", "Tenant id")
	providerID := flag.String("provider", "", "Provider id to fetch alerts from")
	simulate := flag.String("simulate", "", "Push a sample alert of the given provider type")
	outputFormat := flag.String("format", "pretty", "Output format: 'pretty' or 'json'")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	timeout := flag.Duration("timeout", time.Minute, "Request timeout")

	flag.Parse()

	if *tenantID == "" || (*providerID == "" && *simulate == "") {
		log.Fatal("-tenant and one of -provider or -simulate are required")
	}

	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	tenant, ok := cfg.Tenant(*tenantID)
	if !ok {
		logger.Fatal("Unknown tenant", zap.String("tenant", *tenantID))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	progress := ui.New(*outputFormat == "json")
	exec := provider.NewExecContext(tenant.ID, tenant.APIKey, logger)

	if *simulate != "" {
		progress.Start(fmt.Sprintf("Pushing a simulated %s alert...", *simulate))
		err := simulateAlert(ctx, exec, *simulate, cfg.Delivery)
		progress.Stop()
		if err != nil {
			logger.Fatal("Simulation failed", zap.Error(err))
		}
		return
	}

	providerCfg, ok := tenant.Provider(*providerID)
	if !ok {
		logger.Fatal("Unknown provider", zap.String("provider", *providerID))
	}

	inst, err := provider.New(exec, *providerCfg)
	if err != nil {
		logger.Fatal("Failed to create provider", zap.Error(err))
	}
	defer inst.Dispose()

	progress.Start(fmt.Sprintf("Fetching alerts from %s...", providerCfg.ID))
	grouped, err := inst.GetAlertsByFingerprint(ctx, tenant.ID)
	progress.Stop()
	if err != nil {
		logger.Fatal("Failed to fetch alerts", zap.Error(err))
	}

	// Output result
	if *outputFormat == "json" {
		output, err := formatter.FormatJSON(grouped)
		if err != nil {
			logger.Fatal("Failed to marshal result", zap.Error(err))
		}
		fmt.Println(output)
	} else {
		outputFormatter := formatter.NewFormatter(!*noColor)
		fmt.Println(outputFormatter.FormatAlertGroups(providerCfg.ID+" alerts", grouped))
	}
}

// simulateAlert pushes one fixture of providerType to the event endpoint,
// normalized the way a consumer would.
func simulateAlert(ctx context.Context, exec *provider.ExecContext, providerType string, cfg config.DeliveryConfig) error {
	payload, err := provider.SimulateAlert(providerType)
	if err != nil {
		return err
	}
	alert, err := normalize.Normalize(payload, providerType)
	if err != nil {
		return err
	}
	if err := delivery.NewClient(cfg.APIURL, cfg.Timeout).Push(ctx, exec.APIKey, alert); err != nil {
		return err
	}
	exec.Logger.Info("Simulated alert pushed", zap.String("name", alert.Name), zap.String("event_id", alert.EventID))
	return nil
}
