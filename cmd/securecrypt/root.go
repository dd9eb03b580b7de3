package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/secure-encrypt-go/internal/cipherkit"
	"github.com/secure-encrypt-go/internal/config"
	"github.com/secure-encrypt-go/internal/encryption"
	apperrors "github.com/secure-encrypt-go/internal/errors"
	"github.com/secure-encrypt-go/internal/keystretch"
	"github.com/secure-encrypt-go/internal/manifest"
	"github.com/secure-encrypt-go/internal/timing"
)

// maxInputBytes bounds the input size; header-length constraints make very
// large inputs out of contract
const maxInputBytes = 500 * 1024 * 1024

type cliOptions struct {
	inPath   string
	outPath  string
	encrypt  bool
	decrypt  bool
	password string
	silent   bool
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "securecrypt",
		Short:         "Encrypt and decrypt files with a password",
		Long:          "securecrypt encrypts files with AES in counter mode, deriving the key from a password with PBKDF2. The parameters needed to decrypt travel in a small header at the front of the output file.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg, opts)
		},
	}

	flags := root.Flags()
	flags.StringVarP(&opts.inPath, "in", "i", "", "input file (required)")
	flags.StringVarP(&opts.outPath, "out", "o", "", "output file")
	flags.BoolVarP(&opts.encrypt, "encrypt", "e", false, "encrypt the input")
	flags.BoolVarP(&opts.decrypt, "decrypt", "d", false, "decrypt the input")
	flags.StringVarP(&opts.password, "password", "p", "", "password (for scripted use; prompted when omitted)")
	flags.BoolVarP(&opts.silent, "silent", "s", false, "no prompts; requires --password")
	root.MarkFlagRequired("in")

	root.AddCommand(newHistoryCmd(cfg))
	return root
}

func run(cfg *config.Config, opts *cliOptions) error {
	if opts.encrypt == opts.decrypt {
		return apperrors.NewArgument("exactly one of --encrypt and --decrypt is required")
	}
	if opts.silent && opts.password == "" {
		return apperrors.NewArgument("--silent requires --password")
	}

	info, err := os.Stat(opts.inPath)
	if err != nil {
		return apperrors.NewIOWithCause("cannot read input file", err)
	}
	if info.Size() > maxInputBytes {
		return apperrors.NewArgumentf("input is %d bytes; at most %d supported", info.Size(), maxInputBytes)
	}

	op := "decrypt"
	suffix := cfg.Output.DecryptSuffix
	if opts.encrypt {
		op = "encrypt"
		suffix = cfg.Output.EncryptSuffix
	}
	outPath := opts.outPath
	if outPath == "" {
		outPath = changeExt(opts.inPath, suffix)
	}

	if !opts.silent {
		if _, err := os.Stat(outPath); err == nil {
			ok, err := confirm(fmt.Sprintf("Output file %s exists. Overwrite? [y/N]: ", outPath))
			if err != nil {
				return err
			}
			if !ok {
				return apperrors.NewAborted("aborted by user")
			}
		}
	}

	password := opts.password
	if password == "" {
		password, err = promptPassword(opts.encrypt)
		if err != nil {
			return err
		}
	}
	if password == "" {
		return apperrors.NewArgument("password must not be empty")
	}

	sw := timing.Start(op)
	rec, err := runFileOp(cfg, op, opts.inPath, outPath, password)
	if err != nil {
		return err
	}
	sw.Observe(log.Logger)

	rec.DurationMS = sw.Elapsed().Milliseconds()
	rec.FinishedAt = time.Now()
	if store, serr := manifest.Open(cfg.DataDir); serr != nil {
		log.Warn().Err(serr).Msg("History store unavailable")
	} else {
		defer store.Close()
		if aerr := store.Append(*rec); aerr != nil {
			log.Warn().Err(aerr).Msg("Failed to record history")
		}
	}

	log.Info().
		Str("op_id", sw.ID()).
		Str("in", opts.inPath).
		Str("out", outPath).
		Int64("bytes", rec.Bytes).
		Msg("Done")
	return nil
}

// runFileOp streams the input file through a cipher stream into the output
// file and reports what it processed
func runFileOp(cfg *config.Config, op, inPath, outPath, password string) (*manifest.Record, error) {
	factory, err := cipherkit.Lookup(cfg.Crypto.Cipher)
	if err != nil {
		return nil, err
	}
	stretcher, err := keystretch.New(password,
		keystretch.WithIterations(cfg.Crypto.Iterations),
		keystretch.WithSaltLength(cfg.Crypto.SaltLength),
	)
	if err != nil {
		return nil, err
	}
	defer stretcher.Destroy()

	in, err := os.Open(inPath)
	if err != nil {
		return nil, apperrors.NewIOWithCause("failed to open input file", err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return nil, apperrors.NewIOWithCause("failed to create output file", err)
	}

	rec := &manifest.Record{Op: op, Input: inPath, Output: outPath}
	var opErr error
	if op == "encrypt" {
		bw := bufio.NewWriter(out)
		var stream *encryption.Stream
		stream, opErr = encryption.Create(bw, stretcher, encryption.WithFactory(factory))
		if opErr == nil {
			rec.NonceLen = len(stream.Nonce())
			rec.SaltLen = len(stream.PasswordSalt())
			rec.Bytes, opErr = io.Copy(stream, in)
			if ferr := stream.Flush(); opErr == nil {
				opErr = ferr
			}
			stream.Close()
		}
		if opErr == nil {
			opErr = bw.Flush()
		}
	} else {
		var stream *encryption.Stream
		stream, opErr = encryption.Open(bufio.NewReader(in), stretcher, encryption.WithFactory(factory))
		if opErr == nil {
			rec.NonceLen = len(stream.Nonce())
			rec.SaltLen = len(stream.PasswordSalt())
			rec.Bytes, opErr = io.Copy(out, stream)
			stream.Close()
		}
	}

	if cerr := out.Close(); opErr == nil && cerr != nil {
		opErr = apperrors.NewIOWithCause("failed to close output file", cerr)
	}
	if opErr != nil {
		os.Remove(outPath)
		return nil, opErr
	}
	return rec, nil
}

// promptPassword reads a masked password from the terminal; encryption asks
// twice so a typo cannot lock the file
func promptPassword(confirmTwice bool) (string, error) {
	first, err := readPassword("Password: ")
	if err != nil {
		return "", err
	}
	if !confirmTwice {
		return first, nil
	}
	second, err := readPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", apperrors.NewArgument("passwords do not match")
	}
	return first, nil
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", apperrors.NewIOWithCause("failed to read password", err)
	}
	return string(pw), nil
}

func confirm(prompt string) (bool, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, apperrors.NewIOWithCause("failed to read answer", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// changeExt swaps the path's extension for suffix, appending when the path
// has none
func changeExt(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix
}

func newHistoryCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List past encrypt and decrypt operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := manifest.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no history")
				return nil
			}
			for _, rec := range records {
				fmt.Printf("%s  %-7s  %10d bytes  %6dms  %s -> %s\n",
					rec.FinishedAt.Local().Format(time.RFC3339),
					rec.Op, rec.Bytes, rec.DurationMS, rec.Input, rec.Output)
			}
			return nil
		},
	}
}
