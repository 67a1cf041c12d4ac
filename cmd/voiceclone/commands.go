package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/voiceclone-service/internal/client"
	"github.com/spf13/cobra"
)

const (
	flagVoice   = "voice"
	flagText    = "text"
	flagOutput  = "out"
	flagMessage = "message"
	flagSample  = "sample"
	flagRefText = "ref-text"

	defaultOutputFile = "output.wav"
	outputFileMode    = 0o644
)

var errVoiceNeedsOutput = errors.New("--voice requires --out to be set")

func newHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "health",
		Short:   "Check that the service is up",
		Example: `voiceclone health --server http://localhost:8080`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := opts.client().HealthCheck(cmd.Context())
			if err != nil {
				return fmt.Errorf("service is not healthy: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Service is healthy")

			return nil
		},
	}
}

func newVoicesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "Manage stored voice samples",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newVoicesListCommand(opts),
		newVoicesUploadCommand(opts),
		newVoicesDeleteCommand(opts),
	)

	return cmd
}

func newVoicesListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored voices",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			voiceIDs, err := opts.client().ListVoices(cmd.Context())
			if err != nil {
				return err
			}

			if len(voiceIDs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No voices stored.")

				return nil
			}

			for _, id := range voiceIDs {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}

			return nil
		},
	}
}

func newVoicesUploadCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "upload <file>",
		Short:   "Upload a reference audio sample",
		Example: `voiceclone voices upload ./narrator.wav`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return uploadVoice(cmd.Context(), cmd, opts.client(), args[0])
		},
	}
}

func uploadVoice(ctx context.Context, cmd *cobra.Command, c *client.Client, path string) error {
	sample, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open voice sample: %w", err)
	}
	defer sample.Close()

	voiceID, err := c.UploadVoice(ctx, filepath.Base(path), sample)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Voice saved as %s\n", voiceID)

	return nil
}

func newVoicesDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a stored voice",
		Example: `voiceclone voices delete narrator.wav`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := opts.client().DeleteVoice(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Voice %s deleted\n", args[0])

			return nil
		},
	}
}

func newSayCommand(opts *rootOptions) *cobra.Command {
	var voiceID, text, output string

	cmd := &cobra.Command{
		Use:     "say",
		Short:   "Synthesize text in a stored voice",
		Example: `voiceclone say --voice narrator.wav --text "Hello there" --out hello.wav`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return speak(cmd, opts.client(), voiceID, text, output)
		},
	}

	cmd.Flags().StringVar(&voiceID, flagVoice, "", "Voice id to speak with")
	cmd.Flags().StringVar(&text, flagText, "", "Text to speak")
	cmd.Flags().StringVarP(&output, flagOutput, "o", defaultOutputFile, "Where to write the audio")
	_ = cmd.MarkFlagRequired(flagVoice)
	_ = cmd.MarkFlagRequired(flagText)

	return cmd
}

func newCloneCommand(opts *rootOptions) *cobra.Command {
	var sample, refText, text, output string

	cmd := &cobra.Command{
		Use:   "clone",
		Short: "Synthesize text in the voice of a local sample without storing it",
		Example: `voiceclone clone --sample ./guest.wav --text "Hello there" --out hello.wav
voiceclone clone --sample ./guest.wav --ref-text "What the sample says" --text "Hello there"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cloneOnce(cmd, opts.client(), sample, refText, text, output)
		},
	}

	cmd.Flags().StringVar(&sample, flagSample, "", "Reference audio file to clone")
	cmd.Flags().StringVar(&refText, flagRefText, "", "Transcript of the sample; empty lets the engine transcribe it")
	cmd.Flags().StringVar(&text, flagText, "", "Text to speak")
	cmd.Flags().StringVarP(&output, flagOutput, "o", defaultOutputFile, "Where to write the audio")
	_ = cmd.MarkFlagRequired(flagSample)
	_ = cmd.MarkFlagRequired(flagText)

	return cmd
}

func cloneOnce(cmd *cobra.Command, c *client.Client, samplePath, refText, text, output string) error {
	sample, err := os.Open(samplePath)
	if err != nil {
		return fmt.Errorf("failed to open voice sample: %w", err)
	}
	defer sample.Close()

	result, err := c.SynthesizeFromSample(cmd.Context(), filepath.Base(samplePath), sample, refText, text)
	if err != nil {
		return err
	}

	return download(cmd, c, result, output)
}

func newChatCommand(opts *rootOptions) *cobra.Command {
	var message, voiceID, output string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask the chat model a question, optionally speaking the answer",
		Example: `voiceclone chat --message "Tell me a joke"
voiceclone chat --message "Tell me a joke" --voice narrator.wav --out joke.wav`,
		Args: cobra.NoArgs,
		PreRunE: func(_ *cobra.Command, _ []string) error {
			if voiceID != "" && output == "" {
				return errVoiceNeedsOutput
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := opts.client()

			reply, err := c.Chat(cmd.Context(), message)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), reply)

			if voiceID == "" {
				return nil
			}

			return speak(cmd, c, voiceID, reply, output)
		},
	}

	cmd.Flags().StringVarP(&message, flagMessage, "m", "", "Message to send")
	cmd.Flags().StringVar(&voiceID, flagVoice, "", "Speak the reply in this voice")
	cmd.Flags().StringVarP(&output, flagOutput, "o", "", "Where to write the spoken reply")
	_ = cmd.MarkFlagRequired(flagMessage)

	return cmd
}

// speak synthesizes text in a stored voice and writes the audio to output.
func speak(cmd *cobra.Command, c *client.Client, voiceID, text, output string) error {
	result, err := c.Synthesize(cmd.Context(), voiceID, text)
	if err != nil {
		return err
	}

	return download(cmd, c, result, output)
}

// download fetches a generated artifact and writes it to output.
func download(cmd *cobra.Command, c *client.Client, result client.GenerateResult, output string) error {
	audio, err := c.FetchAudio(cmd.Context(), result.AudioURL)
	if err != nil {
		return err
	}

	err = os.WriteFile(output, audio, outputFileMode)
	if err != nil {
		return fmt.Errorf("failed to write audio to %s: %w", output, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Generated: %s (%d bytes)\n", output, len(audio))

	return nil
}
