package lstmgo

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/cpuid/v2"
	"github.com/spf13/cobra"
)

// CLI global variables
var (
	trainConfig = DefaultConfig()

	// encoded songs and the symbol mapping produced by preprocessing
	datasetPath = "file_dataset"
	mappingPath = "mapping.json"
	// optional binary int32 token file used instead of the text corpus
	tokenFile string
	// hidden width override, NumUnits[0]
	numUnits int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lstmgo",
	Short: "Train an LSTM next-symbol model on encoded melodies",
	Long: `
		With no arguments lstmgo performs one full training run using the default hyperparameters.
		If a checkpoint exists at the checkpoint path training resumes from it, otherwise a new model is built.
		The model with the lowest training loss of the run is saved back to the checkpoint path.
	`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		printHardware(cmd.OutOrStdout())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if numUnits > 0 {
			trainConfig.NumUnits = []int{numUnits}
		}
		_, err := Train(trainConfig, sequenceGenerator(), cmd.OutOrStdout())
		return err
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate the saved model on the training sequences",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		model, err := LoadCheckpoint(trainConfig.CheckpointPath)
		if err != nil {
			fmt.Fprintln(out, "did you forget to train a model first?")
			return err
		}
		ds, err := sequenceGenerator()(trainConfig.SequenceLength)
		if err != nil {
			return err
		}
		loss, accuracy, err := model.Evaluate(ds, trainConfig.BatchSize)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d samples - loss: %.4f - accuracy: %.4f\n", ds.NumSamples, loss, accuracy)
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the architecture of the saved model",
	RunE: func(cmd *cobra.Command, args []string) error {
		model, err := LoadCheckpoint(trainConfig.CheckpointPath)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), model)
		fmt.Fprintf(cmd.OutOrStdout(), "run_id: %s\n", model.RunID)
		model.Summary(cmd.OutOrStdout())
		return nil
	},
}

func sequenceGenerator() SequenceGenerator {
	if tokenFile != "" {
		return TokenFileGenerator(tokenFile, trainConfig.OutputUnits)
	}
	return CorpusGenerator(datasetPath, mappingPath)
}

func printHardware(w io.Writer) {
	fmt.Fprintf(w, "cpu: %s (%d physical cores, avx2: %v, fma3: %v)\n",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores,
		cpuid.CPU.Supports(cpuid.AVX2), cpuid.CPU.Supports(cpuid.FMA3))
}

func registerFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&trainConfig.CheckpointPath, "checkpoint", trainConfig.CheckpointPath, "checkpoint file, loaded if present and overwritten on improvement")
	flags.IntVar(&trainConfig.SequenceLength, "sequence-length", trainConfig.SequenceLength, "symbols per training window")
	flags.IntVar(&trainConfig.BatchSize, "batch-size", trainConfig.BatchSize, "samples per optimizer step")
	flags.StringVar(&datasetPath, "dataset", datasetPath, "whitespace separated symbol corpus")
	flags.StringVar(&mappingPath, "mapping", mappingPath, "JSON symbol to index mapping")
	flags.StringVar(&tokenFile, "tokens", tokenFile, "binary int32 token file, used instead of --dataset")

	rootCmd.Flags().IntVar(&trainConfig.OutputUnits, "output-units", trainConfig.OutputUnits, "vocabulary size of a newly built model")
	rootCmd.Flags().IntVar(&numUnits, "num-units", trainConfig.NumUnits[0], "LSTM width of a newly built model")
	rootCmd.Flags().Float32Var(&trainConfig.LearningRate, "learning-rate", trainConfig.LearningRate, "Adam learning rate of a newly built model")
	rootCmd.Flags().IntVar(&trainConfig.Epochs, "epochs", trainConfig.Epochs, "training epochs")
	rootCmd.Flags().Int64Var(&trainConfig.Seed, "seed", trainConfig.Seed, "seed for initialisation, dropout and shuffling")
}

func InitializeCommand() {
	registerFlags()
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(summaryCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
