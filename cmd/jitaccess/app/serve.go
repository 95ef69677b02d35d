package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/oauth2/google"

	"go.cloudsolutions.dev/jitaccess/internal/auth"
	"go.cloudsolutions.dev/jitaccess/internal/catalog"
	"go.cloudsolutions.dev/jitaccess/internal/catalog/project"
	"go.cloudsolutions.dev/jitaccess/internal/clients"
	"go.cloudsolutions.dev/jitaccess/internal/diagnostics"
	"go.cloudsolutions.dev/jitaccess/internal/executor"
	"go.cloudsolutions.dev/jitaccess/internal/notify"
	"go.cloudsolutions.dev/jitaccess/internal/tracing"
	"go.cloudsolutions.dev/jitaccess/internal/web"
)

func mustStringFlag(flags *pflag.FlagSet, flagName string) string {
	val, err := flags.GetString(flagName)
	if err != nil {
		panic(err)
	}
	return val
}

// envOrDefault lets deployments configure flags through the
// environment, which is how App Engine and Cloud Run pass settings.
func envOrDefault(name, fallback string) string {
	if value, ok := os.LookupEnv(name); ok {
		return value
	}
	return fallback
}

func serve() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the JIT access REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: false,
			}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stopTracing, err := tracing.Configure(ctx, "jitaccess.cloudsolutions.dev")
			if err != nil {
				return fmt.Errorf("failed to initialize tracing: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := stopTracing(shutdownCtx); err != nil {
					slog.Warn("failed to flush traces", slog.Any("error", err))
				}
			}()

			scope := mustStringFlag(cmd.Flags(), "scope")
			if scope == "" {
				return fmt.Errorf("a resource scope is required, for example organizations/123")
			}

			// Without an explicit signing account, fall back to the
			// service account behind the application default
			// credentials.
			serviceAccount := mustStringFlag(cmd.Flags(), "service-account")
			if serviceAccount == "" {
				credentials, err := google.FindDefaultCredentials(ctx, clients.CloudPlatformScope)
				if err != nil {
					return fmt.Errorf("failed to resolve default credentials: %w", err)
				}
				serviceAccount = serviceAccountEmail(credentials.JSON)
			}
			if serviceAccount == "" {
				return fmt.Errorf("a service account email is required for signing approval tokens")
			}

			activationTimeout, err := cmd.Flags().GetDuration("activation-timeout")
			if err != nil {
				return err
			}
			requestTimeout, err := cmd.Flags().GetDuration("activation-request-timeout")
			if err != nil {
				return err
			}
			minReviewers, _ := cmd.Flags().GetInt("min-reviewers")
			maxReviewers, _ := cmd.Flags().GetInt("max-reviewers")
			maxRoles, _ := cmd.Flags().GetInt("max-roles-per-self-approval")
			workers, _ := cmd.Flags().GetInt64("workers")

			assetClient, err := clients.NewAssetInventoryClient(ctx)
			if err != nil {
				return err
			}
			analyzerClient, err := clients.NewPolicyAnalyzerClient(ctx)
			if err != nil {
				return err
			}
			resourceManager, err := clients.NewResourceManagerClient(ctx)
			if err != nil {
				return err
			}
			directory, err := clients.NewDirectoryGroupsClient(ctx)
			if err != nil {
				return err
			}
			credentials, err := clients.NewIamCredentialsClient(ctx)
			if err != nil {
				return err
			}
			secrets, err := clients.NewSecretManagerClient(ctx)
			if err != nil {
				return err
			}

			pool := executor.NewPool(workers)

			variant := mustStringFlag(cmd.Flags(), "repository")

			var repository project.ProjectRoleRepository
			switch variant {
			case "policy-analyzer":
				repository = project.NewPolicyAnalyzerRepository(
					analyzerClient,
					resourceManager,
					pool,
					project.PolicyAnalyzerRepositoryOptions{
						Scope:                  scope,
						RequiredProjectTagPath: mustStringFlag(cmd.Flags(), "required-project-tag-path"),
					})
			case "asset-inventory":
				repository = project.NewAssetInventoryRepository(
					assetClient,
					directory,
					pool,
					project.AssetInventoryRepositoryOptions{Scope: scope})
			default:
				return fmt.Errorf("unknown repository variant %q", variant)
			}

			cat := project.NewCatalog(repository, resourceManager, project.Options{
				Scope:                    scope,
				ActivationTimeout:        activationTimeout,
				ActivationRequestTimeout: requestTimeout,
				MinReviewers:             minReviewers,
				MaxReviewers:             maxReviewers,
				MaxActivationsPerRequest: maxRoles,
				AvailableProjectsQuery:   mustStringFlag(cmd.Flags(), "available-projects-query"),
			})

			justification, err := catalog.NewJustificationPolicy(
				mustStringFlag(cmd.Flags(), "justification-pattern"),
				mustStringFlag(cmd.Flags(), "justification-hint"))
			if err != nil {
				return fmt.Errorf("invalid justification pattern: %w", err)
			}

			signerAccount := auth.UserID{Email: serviceAccount}
			approvalBaseURL := mustStringFlag(cmd.Flags(), "approval-base-url")
			signer, err := catalog.NewTokenSigner(credentials, catalog.TokenSignerOptions{
				ServiceAccount:   signerAccount,
				Audience:         approvalBaseURL,
				MaxTokenLifetime: requestTimeout,
			})
			if err != nil {
				return err
			}

			mail, err := notify.NewMailService(ctx, secrets, notify.MailServiceOptions{
				Host:               mustStringFlag(cmd.Flags(), "smtp-host"),
				Sender:             mustStringFlag(cmd.Flags(), "smtp-sender"),
				Username:           mustStringFlag(cmd.Flags(), "smtp-username"),
				PasswordSecretPath: mustStringFlag(cmd.Flags(), "smtp-password-secret"),
			})
			if err != nil {
				return err
			}
			pubsubClient, err := clients.NewPubSubClient(ctx)
			if err != nil {
				return err
			}
			notifier := notify.NewDispatcher(
				mail,
				notify.NewPubSubService(pubsubClient, mustStringFlag(cmd.Flags(), "notification-topic")),
			)

			activator := project.NewActivator(
				cat,
				resourceManager,
				signer,
				justification,
				notifier,
				logger,
				project.ActivatorOptions{ApprovalBaseURL: approvalBaseURL})

			// One probe per collaborator the configured variant depends
			// on. The signing probe exercises the same signJwt call the
			// approval flow uses.
			probes := []diagnostics.Diagnosable{
				diagnostics.NewProbe("resourcemanager", func(ctx context.Context) error {
					_, err := resourceManager.SearchProjects(ctx, "state:ACTIVE")
					return err
				}),
				diagnostics.NewProbe("iamcredentials", func(ctx context.Context) error {
					_, err := credentials.SignJwt(ctx, signerAccount, map[string]any{
						"iss": signerAccount.Email,
					})
					return err
				}),
			}
			switch variant {
			case "policy-analyzer":
				probes = append(probes, diagnostics.NewProbe("policyanalyzer", func(ctx context.Context) error {
					_, err := analyzerClient.FindAccessibleResourcesByUser(
						ctx, scope, signerAccount, "resourcemanager.projects.get", "", false)
					return err
				}))
			case "asset-inventory":
				probes = append(probes,
					diagnostics.NewProbe("assetinventory", func(ctx context.Context) error {
						return assetClient.CheckAccess(ctx, scope)
					}),
					diagnostics.NewProbe("directory", func(ctx context.Context) error {
						_, err := directory.ListDirectGroupMemberships(ctx, signerAccount)
						return err
					}))
			}
			runner := diagnostics.NewRunner(logger, probes...)

			server := web.NewServer(cat, activator, runner, logger)
			apiSrv := &http.Server{
				Addr:    mustStringFlag(cmd.Flags(), "listen-addr"),
				Handler: server.Handler(),
			}

			go func() {
				slog.InfoContext(ctx, "starting API server", slog.String("address", apiSrv.Addr))
				if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.ErrorContext(ctx, "failed to start API server", slog.Any("error", err))
					panic(err)
				}
			}()

			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())
			metricsSrv := &http.Server{
				Addr:    mustStringFlag(cmd.Flags(), "metrics-addr"),
				Handler: metricsMux,
			}

			go func() {
				slog.InfoContext(ctx, "starting metrics server", slog.String("address", metricsSrv.Addr))
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.ErrorContext(ctx, "failed to start metrics server", slog.Any("error", err))
					panic(err)
				}
			}()

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := apiSrv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("failed to shut down API server", slog.Any("error", err))
			}
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("failed to shut down metrics server", slog.Any("error", err))
			}
			return nil
		},
	}

	cmd.Flags().String("listen-addr", envOrDefault("LISTEN_ADDR", ":8080"), "The listen address for the REST API")
	cmd.Flags().String("metrics-addr", envOrDefault("METRICS_ADDR", ":9000"), "The listen address for the metrics service")

	cmd.Flags().String("scope", envOrDefault("RESOURCE_SCOPE", ""), "Organization, folder, or project to analyze, for example organizations/123")
	cmd.Flags().String("repository", envOrDefault("REPOSITORY", "policy-analyzer"), "Entitlement discovery variant, policy-analyzer or asset-inventory")
	cmd.Flags().String("available-projects-query", envOrDefault("AVAILABLE_PROJECTS_QUERY", ""), "Optional project search query used instead of entitlement analysis for project discovery")
	cmd.Flags().String("required-project-tag-path", envOrDefault("REQUIRED_PROJECT_TAG_PATH", ""), "Optional namespaced tag value projects must carry to be listed")

	cmd.Flags().Duration("activation-timeout", mustDuration(envOrDefault("ACTIVATION_TIMEOUT", "2h")), "Maximum duration of an activation")
	cmd.Flags().Duration("activation-request-timeout", mustDuration(envOrDefault("ACTIVATION_REQUEST_TIMEOUT", "1h")), "How long an approval request stays open")
	cmd.Flags().Int("min-reviewers", mustInt(envOrDefault("ACTIVATION_REQUEST_MIN_REVIEWERS", "1")), "Minimum number of reviewers for an approval request")
	cmd.Flags().Int("max-reviewers", mustInt(envOrDefault("ACTIVATION_REQUEST_MAX_REVIEWERS", "10")), "Maximum number of reviewers for an approval request")
	cmd.Flags().Int("max-roles-per-self-approval", mustInt(envOrDefault("ACTIVATION_REQUEST_MAX_ROLES", "10")), "Maximum number of roles per self-approved request")
	cmd.Flags().Int64("workers", 16, "Size of the worker pool for concurrent API lookups")

	cmd.Flags().String("justification-pattern", envOrDefault("JUSTIFICATION_PATTERN", ".*"), "Regular expression justifications must match")
	cmd.Flags().String("justification-hint", envOrDefault("JUSTIFICATION_HINT", "Bug or case number"), "Hint shown to users describing a valid justification")

	cmd.Flags().String("service-account", envOrDefault("SERVICE_ACCOUNT", ""), "Service account email used to sign approval tokens")
	cmd.Flags().String("approval-base-url", envOrDefault("APPROVAL_BASE_URL", ""), "Externally reachable base URL reviewers open to approve requests")

	cmd.Flags().String("smtp-host", envOrDefault("SMTP_HOST", ""), "SMTP server in host:port notation, empty disables mail")
	cmd.Flags().String("smtp-sender", envOrDefault("SMTP_SENDER", ""), "From address for notification mail")
	cmd.Flags().String("smtp-username", envOrDefault("SMTP_USERNAME", ""), "SMTP user name")
	cmd.Flags().String("smtp-password-secret", envOrDefault("SMTP_PASSWORD_SECRET", ""), "Secret Manager version holding the SMTP password")

	cmd.Flags().String("notification-topic", envOrDefault("NOTIFICATION_TOPIC", ""), "Pub/Sub topic for activation events, empty disables publishing")

	return cmd
}

func serviceAccountEmail(credentialsJSON []byte) string {
	var key struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(credentialsJSON, &key); err != nil {
		return ""
	}
	return key.ClientEmail
}

func mustDuration(value string) time.Duration {
	duration, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("invalid duration %q", value))
	}
	return duration
}

func mustInt(value string) int {
	var number int
	if _, err := fmt.Sscanf(value, "%d", &number); err != nil {
		panic(fmt.Sprintf("invalid number %q", value))
	}
	return number
}
