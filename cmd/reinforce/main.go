// reinforce trains a REINFORCE policy-gradient agent to balance the pole of the CartPole environment.
//
// It prints the mean score every --print_interval episodes, and at the end plots the mean scores to --plot.
//
// Example:
//
//	$ reinforce --episodes=400 --policy="learning_rate=0.0002,gamma=0.98" --plot=cartpole.png
//
// Use --policy=help to list the policy hyperparameters.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/janpfeifer/reinforce/internal/cartpole"
	"github.com/janpfeifer/reinforce/internal/chart"
	"github.com/janpfeifer/reinforce/internal/parameters"
	"github.com/janpfeifer/reinforce/internal/policy"
	"github.com/janpfeifer/reinforce/internal/profilers"
	"github.com/janpfeifer/reinforce/internal/report"
	"github.com/janpfeifer/reinforce/internal/trainer"
	"github.com/janpfeifer/reinforce/internal/ui/spinning"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// Flags
var (
	defaults = trainer.DefaultConfig()

	flagEpisodes      int
	flagPrintInterval int
	flagMaxSteps      int
	flagSeed          int64
	flagPolicy        string
	flagPlot          string
	flagResultsJSON   string
	flagRender        bool
	flagProgress      bool
)

func main() {
	klog.InitFlags(nil)
	if err := rootCommand().Execute(); err != nil {
		klog.Fatalf("Failed: %+v", err)
	}
}

func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "reinforce",
		Short:         "Trains a REINFORCE policy-gradient agent on CartPole",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&flagEpisodes, "episodes", defaults.Episodes, "Number of episodes to train.")
	flags.IntVar(&flagPrintInterval, "print_interval", defaults.PrintInterval,
		"Number of episodes over which the score is averaged and reported.")
	flags.IntVar(&flagMaxSteps, "max_steps", defaults.MaxSteps, "Maximum number of steps per episode.")
	flags.Int64Var(&flagSeed, "seed", defaults.Seed,
		"Seed for the environment and the action sampler. The policy initialization seed is set with --policy=seed=...")
	flags.StringVar(&flagPolicy, "policy", "",
		`Policy hyperparameters, as "key1=value1,key2=value2,...". Use "help" to list them.`)
	flags.StringVar(&flagPlot, "plot", "reinforce-cartpole.png",
		"File where to plot the mean scores. The format is given by the extension. Set to empty to disable.")
	flags.StringVar(&flagResultsJSON, "results_json", "", "If set, save the results as JSON to this file.")
	flags.BoolVar(&flagRender, "render", false, "Render the environment at every step.")
	flags.BoolVar(&flagProgress, "progress", false, "Display a progress bar over the episodes.")

	// klog and profilers flags.
	flags.AddGoFlagSet(flag.CommandLine)
	return cmd
}

// run the training.
func run() error {
	// Capture Control+C
	ctx, cancel := context.WithCancel(context.Background())
	spinning.SafeInterrupt(cancel, 5*time.Second)
	defer cancel()

	// Profilers: HTTP profiler server and CPU profile.
	if err := profilers.Setup(ctx); err != nil {
		return err
	}
	defer profilers.OnQuit()

	p, err := policy.New(parameters.NewFromConfigString(flagPolicy))
	if errors.Is(err, policy.ErrHelpRequested) {
		return nil
	}
	if err != nil {
		return err
	}
	defer p.Finalize()
	fmt.Println(p.Summary())

	env := cartpole.New(flagSeed).WithMaxSteps(flagMaxSteps)
	defer func() {
		if err := env.Close(); err != nil {
			klog.Errorf("failed to close environment: %+v", err)
		}
	}()

	config := defaults
	config.Episodes = flagEpisodes
	config.PrintInterval = flagPrintInterval
	config.MaxSteps = flagMaxSteps
	config.Seed = flagSeed
	if flagRender {
		config.RenderWriter = os.Stdout
	}
	driver, err := trainer.New(config, env, p)
	if err != nil {
		return err
	}
	driver.Reporter = report.NewConsole(os.Stdout)
	if flagProgress {
		bar := progressbar.NewOptions(config.Episodes,
			progressbar.OptionSetDescription("Training"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish())
		driver.OnEpisode = func(result trainer.EpisodeResult) {
			bar.Describe(fmt.Sprintf("Training (last score %3.0f)", result.Score))
			_ = bar.Add(1)
		}
		defer func() { _ = bar.Finish() }()
	}

	start := time.Now()
	results, err := driver.Run(ctx, config.Episodes)
	if errors.Is(err, context.Canceled) {
		klog.Warningf("Training interrupted after %d episodes", driver.Episodes())
		err = nil
	}
	if err != nil {
		return err
	}
	klog.Infof("Trained %d episodes (%d optimizer steps) in %s",
		driver.Episodes(), p.NumOptimizerSteps(), time.Since(start).Round(time.Millisecond))
	return saveResults(ctx, p, driver, results)
}

// saveResults plots and saves the results, if requested.
func saveResults(ctx context.Context, p *policy.Policy, driver *trainer.Driver, results []float64) error {
	if flagPlot != "" {
		s := spinning.New(ctx, os.Stdout, fmt.Sprintf("Plotting to %s", flagPlot))
		err := chart.SaveScores(flagPlot, "REINFORCE on CartPole", flagPrintInterval, results)
		s.Done()
		if err != nil {
			return err
		}
	}
	if flagResultsJSON != "" {
		err := report.SaveJSON(flagResultsJSON, report.Results{
			Episodes:       driver.Episodes(),
			PrintInterval:  flagPrintInterval,
			Seed:           flagSeed,
			Policy:         p.String(),
			OptimizerSteps: p.NumOptimizerSteps(),
			MeanScores:     results,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
