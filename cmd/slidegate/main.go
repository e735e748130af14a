package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hotelhub/slidegate/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "slidegate",
	Short: "Slidegate captcha CLI",
	Long: `slidegate is the command-line interface for the slidegate captcha service.

It fetches slider challenges, submits solutions, and inspects the
captcha tokens the service mints. Intended for integration testing and
operations, not for end users.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.slidegate")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.slidegate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "captcha server base URL (default http://localhost:8080)")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── fetch ────────────────────────────────────────────────────────────────────

var fetchOut string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch a fresh challenge and save its images to disk",
	Long: `Fetch requests a new slider challenge and writes the background and
piece images as PNG files, so a human can eyeball the gap position:

  slidegate fetch --out /tmp/captcha

prints the challenge id, the piece's vertical offset, and the expiry.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchOut, "out", ".", "Directory for background.png and piece.png")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	api := client.New(serverURL)
	ch, err := api.Generate(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(fetchOut, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	bg, err := client.DecodeImage(ch.BgImage)
	if err != nil {
		return fmt.Errorf("decode background: %w", err)
	}
	piece, err := client.DecodeImage(ch.PieceImage)
	if err != nil {
		return fmt.Errorf("decode piece: %w", err)
	}
	bgPath := filepath.Join(fetchOut, "background.png")
	piecePath := filepath.Join(fetchOut, "piece.png")
	if err := os.WriteFile(bgPath, bg, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(piecePath, piece, 0o644); err != nil {
		return err
	}

	fmt.Printf("Challenge:  %s\n", ch.CaptchaID)
	fmt.Printf("Piece Y:    %d\n", ch.Y)
	fmt.Printf("Background: %s\n", bgPath)
	fmt.Printf("Piece:      %s\n", piecePath)
	return nil
}

// ── solve ────────────────────────────────────────────────────────────────────

var (
	solveX        int
	solveDuration time.Duration
	solveTrace    string
)

var solveCmd = &cobra.Command{
	Use:   "solve <challenge-id>",
	Short: "Submit a solution for a previously fetched challenge",
	Long: `Solve submits a horizontal offset for a challenge obtained with fetch:

  slidegate solve 3e8b7c2a-... --x 187

Without --trace-file a synthetic drag trace is attached. Synthetic
traces look machine-generated to the server's motion heuristics, which
is fine for integration testing against a permissive deployment.`,
	Args: cobra.ExactArgs(1),
	RunE: runSolve,
}

func init() {
	solveCmd.Flags().IntVar(&solveX, "x", 0, "Horizontal offset to submit (px)")
	solveCmd.Flags().DurationVar(&solveDuration, "duration", 800*time.Millisecond, "Claimed drag duration for the synthetic trace")
	solveCmd.Flags().StringVar(&solveTrace, "trace-file", "", "JSON file with a recorded trace {durationMs, offsets}")
	_ = solveCmd.MarkFlagRequired("x")
}

func runSolve(cmd *cobra.Command, args []string) error {
	trace := &client.Trace{DurationMillis: solveDuration.Milliseconds()}
	if solveTrace != "" {
		raw, err := os.ReadFile(solveTrace)
		if err != nil {
			return fmt.Errorf("read trace file: %w", err)
		}
		if err := json.Unmarshal(raw, trace); err != nil {
			return fmt.Errorf("parse trace file: %w", err)
		}
	} else {
		// Ramp up to the target in uneven steps so the trace is at
		// least not perfectly linear.
		for i := 0; i <= 16; i++ {
			trace.Offsets = append(trace.Offsets, solveX*i*i/(16*16))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	api := client.New(serverURL)
	res, err := api.Verify(ctx, args[0], solveX, trace)
	if err != nil {
		return err
	}
	if !res.Success {
		fmt.Printf("Rejected: %s\n", res.Msg)
		os.Exit(1)
	}
	fmt.Printf("Solved. Token:\n%s\n", res.CaptchaToken)
	return nil
}

// ── inspect ──────────────────────────────────────────────────────────────────

var inspectSecret string

var inspectCmd = &cobra.Command{
	Use:   "inspect <token>",
	Short: "Decode a captcha token and print its claims",
	Long: `Inspect decodes a captcha token's claims without contacting the server.

By default the signature is NOT checked. Pass --secret to also verify
the HMAC signature and expiry (single-use state is only known to the
server and is not checked here).`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectSecret, "secret", "", "Signing secret; verifies signature and expiry when set")
}

func runInspect(cmd *cobra.Command, args []string) error {
	tokenStr := args[0]

	if inspectSecret != "" {
		parsed, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(inspectSecret), nil
		})
		switch {
		case err != nil && errors.Is(err, jwt.ErrTokenExpired):
			fmt.Println("Signature: valid (token EXPIRED)")
		case err != nil:
			return fmt.Errorf("verify token: %w", err)
		case parsed.Valid:
			fmt.Println("Signature: valid")
		}
	}

	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return errors.New("not a JWT: want three dot-separated parts")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("decode claims: %w", err)
	}
	var pretty map[string]any
	if err := json.Unmarshal(payload, &pretty); err != nil {
		return fmt.Errorf("parse claims: %w", err)
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("slidegate %s\n", version)
	},
}
