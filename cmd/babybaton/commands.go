package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"babybaton/internal/backend"
	"babybaton/internal/bootstrap"
	"babybaton/internal/domain"
	"babybaton/internal/usecase"
)

func newLoginCmd(configPath *string) *cobra.Command {
	var familyName, caregiverName, password, babyName string
	var create bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Join a family on this device, or create one with --create",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			services, _, err := loadServices(ctx, *configPath, cmd)
			if err != nil {
				return err
			}
			defer services.Close()

			out := cmd.OutOrStdout()
			in := bufio.NewReader(cmd.InOrStdin())
			if familyName == "" {
				if familyName, err = ask(out, in, "Family name: "); err != nil {
					return err
				}
			}
			if create && babyName == "" {
				if babyName, err = ask(out, in, "Baby's name: "); err != nil {
					return err
				}
			}
			if caregiverName == "" {
				if caregiverName, err = ask(out, in, "Your name: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = ask(out, in, "Family password: "); err != nil {
					return err
				}
			}

			deviceID, err := services.Identity.DeviceID(ctx)
			if err != nil {
				return err
			}
			hostname, _ := os.Hostname()

			var identity domain.Identity
			if create {
				identity, err = services.Backend.CreateFamily(ctx, services.Identity.Timezone(), backend.CreateRequest{
					FamilyName:    familyName,
					BabyName:      babyName,
					Password:      password,
					CaregiverName: caregiverName,
					DeviceID:      deviceID,
					DeviceName:    hostname,
				})
			} else {
				identity, err = services.Backend.JoinFamily(ctx, services.Identity.Timezone(), backend.JoinRequest{
					FamilyName:    familyName,
					Password:      password,
					CaregiverName: caregiverName,
					DeviceID:      deviceID,
					DeviceName:    hostname,
				})
			}
			if err != nil {
				return err
			}
			if err := services.Identity.Login(ctx, identity); err != nil {
				return err
			}
			verb := "Signed in"
			if create {
				verb = "Created " + identity.FamilyName + ", signed in"
			}
			_, _ = fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("%s as %s for %s", verb, identity.DisplayName(), identity.BabyName)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "register a new family instead of joining one")
	cmd.Flags().StringVar(&familyName, "family", "", "family name")
	cmd.Flags().StringVar(&babyName, "baby", "", "baby's name (with --create)")
	cmd.Flags().StringVar(&caregiverName, "name", "", "your caregiver name")
	cmd.Flags().StringVar(&password, "password", "", "family password (prompted when empty)")
	return cmd
}

func newLogoutCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign this device out",
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, _, err := loadServices(cmd.Context(), *configPath, cmd)
			if err != nil {
				return err
			}
			defer services.Close()

			if err := services.Identity.Logout(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func newWhoamiCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in caregiver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, _, err := loadServices(cmd.Context(), *configPath, cmd)
			if err != nil {
				return err
			}
			defer services.Close()

			identity, err := services.Identity.Current(cmd.Context())
			if err != nil {
				return err
			}
			deviceID, err := services.Identity.DeviceID(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), renderIdentity(identity, services.Identity.Timezone(), deviceID))
			return nil
		},
	}
}

func newRecordCmd(configPath *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record what happened, review it and save it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			services, sink, err := loadServices(ctx, *configPath, cmd)
			if err != nil {
				return err
			}
			defer services.Close()

			s := &reviewSession{services: services, sink: sink, in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout(), yes: yes}
			return s.record(ctx, false)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "save without asking when something was recognized")
	return cmd
}

func newSayCmd(configPath *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "say <what happened>",
		Short: "Log activities from typed text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			services, sink, err := loadServices(ctx, *configPath, cmd)
			if err != nil {
				return err
			}
			defer services.Close()

			s := &reviewSession{services: services, sink: sink, in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout(), yes: yes}
			review, err := services.Pipeline.SubmitText(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return s.decide(ctx, review)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "save without asking when something was recognized")
	return cmd
}

func newSessionsCmd(configPath *string) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show the current and recent care sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			services, sink, err := loadServices(ctx, *configPath, cmd)
			if err != nil {
				return err
			}
			defer services.Close()

			if refresh {
				sink.quietSessions = true
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return services.Sessions.RefreshCurrentSession(gctx) })
				g.Go(func() error { return services.Sessions.RefreshRecentSessions(gctx) })
				if err := g.Wait(); err != nil {
					return err
				}
			}
			snapshot, err := services.Sessions.Snapshot(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), renderSessions(snapshot, location(services)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", true, "fetch from the server before showing")
	return cmd
}

// reviewSession drives one record/review/save loop on a terminal.
type reviewSession struct {
	services bootstrap.Services
	sink     *terminalSink
	in       *bufio.Reader
	out      io.Writer
	yes      bool
}

func (s *reviewSession) record(ctx context.Context, again bool) error {
	start := s.services.Pipeline.Start
	if again {
		start = s.services.Pipeline.ReRecord
	}
	if err := start(ctx); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(s.out, dimStyle.Render("Speak now. Press Enter when done, Ctrl+C to discard."))
	lineDone := make(chan error, 1)
	go func() {
		_, err := s.in.ReadString('\n')
		lineDone <- err
	}()

	select {
	case <-ctx.Done():
		s.services.Pipeline.Abort()
		_, _ = fmt.Fprintln(s.out, "discarded")
		return nil
	case err := <-lineDone:
		if err != nil && !errors.Is(err, io.EOF) {
			s.services.Pipeline.Abort()
			return err
		}
	}

	review, err := s.services.Pipeline.Stop(ctx)
	if err != nil {
		return err
	}
	return s.decide(ctx, review)
}

func (s *reviewSession) decide(ctx context.Context, review domain.Review) error {
	_, _ = fmt.Fprint(s.out, renderReview(review, location(s.services)))

	for {
		if !review.CanConfirm() {
			choice, err := ask(s.out, s.in, "[r]ecord again or [d]iscard? ")
			if err != nil {
				s.services.Pipeline.Cancel()
				return err
			}
			switch strings.ToLower(choice) {
			case "r":
				return s.record(ctx, true)
			default:
				s.services.Pipeline.Cancel()
				return nil
			}
		}

		choice := "s"
		if !s.yes {
			var err error
			if choice, err = ask(s.out, s.in, "[s]ave, [r]ecord again or [d]iscard? "); err != nil {
				s.services.Pipeline.Cancel()
				return err
			}
		}
		switch strings.ToLower(choice) {
		case "s", "":
			result, err := s.services.Pipeline.Confirm(ctx)
			if errors.Is(err, usecase.ErrStaleAttempt) || errors.Is(err, context.Canceled) {
				return err
			}
			if err != nil {
				failure, ok := domain.AsFailure(err)
				if !ok || !failure.Retryable() {
					s.services.Pipeline.Cancel()
					return err
				}
				// The review is kept; let the caregiver retry or give up.
				_, _ = fmt.Fprintln(s.out, warnStyle.Render("Nothing was saved. Your review is kept."))
				s.yes = false
				review = s.services.Pipeline.Snapshot()
				continue
			}
			_, _ = fmt.Fprintln(s.out, okStyle.Render(fmt.Sprintf("Saved to session started %s.", domain.FormatClock(result.StartedAt, location(s.services)))))
			return nil
		case "r":
			return s.record(ctx, true)
		case "d":
			s.services.Pipeline.Cancel()
			_, _ = fmt.Fprintln(s.out, "discarded")
			return nil
		}
	}
}

func ask(out io.Writer, in *bufio.Reader, prompt string) (string, error) {
	_, _ = fmt.Fprint(out, promptStyle.Render(prompt))
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func location(services bootstrap.Services) *time.Location {
	if services.Identity == nil {
		return time.Local
	}
	loc, err := time.LoadLocation(services.Identity.Timezone())
	if err != nil {
		return time.Local
	}
	return loc
}
