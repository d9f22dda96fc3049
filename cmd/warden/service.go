package main

import (
	"fmt"
	"log/slog"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/warden/pkg/app"
)

// program adapts the application loop to the system service manager.
type program struct {
	params app.RunParams
	errCh  chan error
}

func (p *program) Start(_ service.Service) error {
	p.errCh = make(chan error, 1)
	go func() {
		p.errCh <- app.Run(p.params)
	}()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	// app.Run shuts down on the TERM signal the service manager sends;
	// nothing extra to tear down here.
	return nil
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage warden as a system service",
	}

	var cfgPath string
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to configuration file")

	newService := func() (service.Service, *program, error) {
		prg := &program{
			params: app.RunParams{
				ConfigPath: cfgPath,
				Version:    version,
				Commit:     commit,
				Date:       date,
				LogLevel:   slog.LevelInfo,
			},
		}

		svcConfig := &service.Config{
			Name:        "warden",
			DisplayName: "Warden",
			Description: "Tool call mediation for autonomous agents",
			Arguments:   serviceArguments(cfgPath),
		}
		svc, err := service.New(prg, svcConfig)
		if err != nil {
			return nil, nil, err
		}
		return svc, prg, nil
	}

	control := func(action string) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, _ []string) error {
			svc, _, err := newService()
			if err != nil {
				return err
			}
			if err := service.Control(svc, action); err != nil {
				return fmt.Errorf("service %s: %w", action, err)
			}
			fmt.Printf("Service %s: ok\n", action)
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Install warden as a system service",
			RunE:  control("install"),
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "Remove the warden system service",
			RunE:  control("uninstall"),
		},
		&cobra.Command{
			Use:   "start",
			Short: "Start the installed service",
			RunE:  control("start"),
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the installed service",
			RunE:  control("stop"),
		},
		&cobra.Command{
			Use:   "run",
			Short: "Run under the service manager (used by the installed service)",
			RunE: func(_ *cobra.Command, _ []string) error {
				svc, prg, err := newService()
				if err != nil {
					return err
				}
				if err := svc.Run(); err != nil {
					return err
				}
				select {
				case err := <-prg.errCh:
					return err
				default:
					return nil
				}
			},
		},
	)
	return cmd
}

// serviceArguments is what the service manager invokes after install.
func serviceArguments(cfgPath string) []string {
	args := []string{"service", "run"}
	if cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}
	return args
}
