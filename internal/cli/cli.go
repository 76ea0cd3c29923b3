package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRun:     {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	GatewayURL string
	Token      string
	SessionKey string
	WakeWord   string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandRun}

	takeValue := func(flag string, args []string, i *int) (string, error) {
		*i++
		if *i >= len(args) {
			return "", fmt.Errorf("%s requires a value", flag)
		}
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			value, err := takeValue(arg, args, &i)
			if err != nil {
				return Parsed{}, err
			}
			parsed.ConfigPath = value
		case "--ws":
			value, err := takeValue(arg, args, &i)
			if err != nil {
				return Parsed{}, err
			}
			parsed.GatewayURL = value
		case "--token":
			value, err := takeValue(arg, args, &i)
			if err != nil {
				return Parsed{}, err
			}
			parsed.Token = value
		case "--session":
			value, err := takeValue(arg, args, &i)
			if err != nil {
				return Parsed{}, err
			}
			parsed.SessionKey = value
		case "--wake":
			value, err := takeValue(arg, args, &i)
			if err != nil {
				return Parsed{}, err
			}
			parsed.WakeWord = value
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	if err := validateValues(parsed); err != nil {
		return Parsed{}, err
	}

	return parsed, nil
}

func validateValues(parsed Parsed) error {
	if parsed.GatewayURL != "" && !strings.HasPrefix(parsed.GatewayURL, "ws://") && !strings.HasPrefix(parsed.GatewayURL, "wss://") {
		return errors.New("--ws must be a ws:// or wss:// URL")
	}
	return nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [flags] [command]

Commands:
  run       Connect to the gateway and start the interactive client (default)
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH    Config file path (default: $XDG_CONFIG_HOME/visage/config.conf)
  --ws URL         Gateway WebSocket URL override
  --token TOKEN    Gateway auth token override (also $VISAGE_TOKEN)
  --session KEY    Session key override
  --wake WORD      Wake word override for continuous listening
  -h, --help       Show help
  --version        Show version
`, binaryName)
}
