package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/ruteri/tf-state-backend/api/clients"
	"github.com/ruteri/tf-state-backend/auth"
	"github.com/ruteri/tf-state-backend/cmd/flags"
	"github.com/ruteri/tf-state-backend/common"
	"github.com/ruteri/tf-state-backend/interfaces"
	"github.com/urfave/cli/v2"
)

var flagServer = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "state server base URL",
	EnvVars: []string{"TFSTATE_SERVER"},
}
var flagToken = &cli.StringFlag{
	Name:    "token",
	Usage:   "bearer token",
	EnvVars: []string{"TFSTATE_AUTH_TOKEN"},
}
var flagUsername = &cli.StringFlag{
	Name:    "username",
	Usage:   "basic auth username",
	EnvVars: []string{"TFSTATE_USERNAME"},
}
var flagPassword = &cli.StringFlag{
	Name:    "password",
	Usage:   "basic auth password",
	EnvVars: []string{"TFSTATE_PASSWORD"},
}

var flagProject = &cli.StringFlag{
	Name:  "project",
	Usage: "only list states of this project",
}
var flagExcludeBackups = &cli.BoolFlag{
	Name:  "exclude-backups",
	Usage: "do not list backup slots",
}
var flagBackup = &cli.IntFlag{
	Name:  "backup",
	Usage: "read backup slot N instead of the current state",
}
var flagFile = &cli.StringFlag{
	Name:     "file",
	Aliases:  []string{"f"},
	Usage:    "state file to upload, - for stdin",
	Required: true,
}
var flagLockID = &cli.StringFlag{
	Name:  "lock-id",
	Usage: "ID of the lock held on the state",
}
var flagOperation = &cli.StringFlag{
	Name:  "operation",
	Value: "statectl",
	Usage: "operation recorded in the lock",
}
var flagInfo = &cli.StringFlag{
	Name:  "info",
	Usage: "free-form information recorded in the lock",
}

func newClient(cCtx *cli.Context) *clients.StateClient {
	var opts []clients.ClientOption
	switch {
	case cCtx.String(flagToken.Name) != "":
		opts = append(opts, clients.WithBearerToken(cCtx.String(flagToken.Name)))
	case cCtx.String(flagUsername.Name) != "":
		opts = append(opts, clients.WithBasicAuth(cCtx.String(flagUsername.Name), cCtx.String(flagPassword.Name)))
	}
	return clients.NewStateClient(cCtx.String(flagServer.Name), flags.SetupLogger(cCtx), opts...)
}

// stateArgs reads the <project> <path> positional arguments.
func stateArgs(cCtx *cli.Context) (string, string, error) {
	if cCtx.NArg() != 2 {
		return "", "", fmt.Errorf("expected <project> <path>, got %d arguments", cCtx.NArg())
	}
	return cCtx.Args().Get(0), cCtx.Args().Get(1), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func whoami() string {
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil {
		return name
	}
	return name + "@" + host
}

func main() {
	app := &cli.App{
		Name:    "statectl",
		Usage:   "Manage remote states, locks and configuration",
		Version: common.Version,
		Flags: append([]cli.Flag{
			flagServer,
			flagToken,
			flagUsername,
			flagPassword,
			flags.LogServiceFlagFn("statectl"),
		}, flags.CommonFlags...),
		Commands: []*cli.Command{
			statesCommand,
			lockCommand,
			configCommand,
			usersCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var statesCommand = &cli.Command{
	Name:  "states",
	Usage: "State management commands",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List stored states",
			Flags: []cli.Flag{flagProject, flagExcludeBackups},
			Action: func(cCtx *cli.Context) error {
				keys, err := newClient(cCtx).ListStates(cCtx.Context, cCtx.Bool(flagExcludeBackups.Name))
				if err != nil {
					return err
				}
				project := cCtx.String(flagProject.Name)
				for _, key := range keys {
					if project == "" || strings.HasPrefix(key, project+"/") {
						fmt.Println(key)
					}
				}
				return nil
			},
		},
		{
			Name:      "get",
			Usage:     "Print a state or one of its backups",
			ArgsUsage: "<project> <path>",
			Flags:     []cli.Flag{flagBackup},
			Action: func(cCtx *cli.Context) error {
				project, path, err := stateArgs(cCtx)
				if err != nil {
					return err
				}
				data, err := newClient(cCtx).GetState(cCtx.Context, project, path, cCtx.Int(flagBackup.Name))
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(data)
				return err
			},
		},
		{
			Name:      "set",
			Usage:     "Upload a state, rotating the previous one into the backups",
			ArgsUsage: "<project> <path>",
			Flags:     []cli.Flag{flagFile, flagLockID},
			Action: func(cCtx *cli.Context) error {
				project, path, err := stateArgs(cCtx)
				if err != nil {
					return err
				}

				var data []byte
				if file := cCtx.String(flagFile.Name); file == "-" {
					data, err = io.ReadAll(os.Stdin)
				} else {
					data, err = os.ReadFile(file)
				}
				if err != nil {
					return fmt.Errorf("failed to read state: %w", err)
				}

				err = newClient(cCtx).PutState(cCtx.Context, project, path, data, cCtx.String(flagLockID.Name))
				var conflict *interfaces.LockConflictError
				if errors.As(err, &conflict) && conflict.Existing != nil {
					return fmt.Errorf("state is locked by %s (ID=%s)", conflict.Existing.Who, conflict.Existing.ID)
				}
				return err
			},
		},
		{
			Name:      "delete",
			Usage:     "Delete a state and all its backups",
			ArgsUsage: "<project> <path>",
			Action: func(cCtx *cli.Context) error {
				project, path, err := stateArgs(cCtx)
				if err != nil {
					return err
				}
				return newClient(cCtx).DeleteState(cCtx.Context, project, path)
			},
		},
	},
}

var lockCommand = &cli.Command{
	Name:  "lock",
	Usage: "Lock management commands",
	Subcommands: []*cli.Command{
		{
			Name:      "acquire",
			Usage:     "Lock a state and print the lock record",
			ArgsUsage: "<project> <path>",
			Flags:     []cli.Flag{flagLockID, flagOperation, flagInfo},
			Action: func(cCtx *cli.Context) error {
				project, path, err := stateArgs(cCtx)
				if err != nil {
					return err
				}
				info := &interfaces.LockInfo{
					ID:        cCtx.String(flagLockID.Name),
					Operation: cCtx.String(flagOperation.Name),
					Info:      cCtx.String(flagInfo.Name),
					Who:       whoami(),
					Version:   common.Version,
				}

				acquired, err := newClient(cCtx).Lock(cCtx.Context, project, path, info)
				var conflict *interfaces.LockConflictError
				if errors.As(err, &conflict) && conflict.Existing != nil {
					fmt.Fprintln(os.Stderr, "state is already locked:")
					_ = printJSON(conflict.Existing)
					return err
				}
				if err != nil {
					return err
				}
				return printJSON(acquired)
			},
		},
		{
			Name:      "release",
			Usage:     "Release a lock; without --lock-id the release is forced",
			ArgsUsage: "<project> <path>",
			Flags:     []cli.Flag{flagLockID},
			Action: func(cCtx *cli.Context) error {
				project, path, err := stateArgs(cCtx)
				if err != nil {
					return err
				}
				return newClient(cCtx).Unlock(cCtx.Context, project, path, cCtx.String(flagLockID.Name))
			},
		},
		{
			Name:      "show",
			Usage:     "Print the lock record of a state",
			ArgsUsage: "<project> <path>",
			Action: func(cCtx *cli.Context) error {
				project, path, err := stateArgs(cCtx)
				if err != nil {
					return err
				}
				info, err := newClient(cCtx).GetLock(cCtx.Context, project, path)
				if errors.Is(err, interfaces.ErrNotFound) {
					fmt.Println("not locked")
					return nil
				}
				if err != nil {
					return err
				}
				return printJSON(info)
			},
		},
	},
}

var configCommand = &cli.Command{
	Name:  "config",
	Usage: "Configuration management commands",
	Subcommands: []*cli.Command{
		{
			Name:  "get",
			Usage: "Print the configuration",
			Action: func(cCtx *cli.Context) error {
				cfg, err := newClient(cCtx).GetConfig(cCtx.Context)
				if err != nil {
					return err
				}
				return printJSON(cfg)
			},
		},
		{
			Name:      "set",
			Usage:     "Set the number of backups kept per state",
			ArgsUsage: "<max-backups>",
			Action: func(cCtx *cli.Context) error {
				n, err := strconv.Atoi(cCtx.Args().First())
				if err != nil || n < 1 {
					return fmt.Errorf("max-backups must be a positive integer, got %q", cCtx.Args().First())
				}
				return newClient(cCtx).SetConfig(cCtx.Context, n)
			},
		},
	},
}

var usersCommand = &cli.Command{
	Name:  "users",
	Usage: "Credentials file helpers",
	Subcommands: []*cli.Command{
		{
			Name:  "hash-password",
			Usage: "Read a password from stdin and print its hash for the credentials file",
			Action: func(cCtx *cli.Context) error {
				fmt.Fprint(os.Stderr, "Password: ")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				password := strings.TrimRight(line, "\r\n")
				if password == "" {
					return errors.New("empty password")
				}

				hash, err := auth.HashPassword(password)
				if err != nil {
					return err
				}
				fmt.Println(hash)
				return nil
			},
		},
	},
}
