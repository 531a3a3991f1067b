package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"

	authclient "github.com/goliatone/go-auth-client"
)

const localProviderNote = `

With CAMP_IDENTITY_PROVIDER=local the account store is in-memory and empty at
start, so the email and password are registered in-process before signing in.
Local subject ids derive from the email, so a backend that saw an earlier
signup with the same signing key still finds the profile.`

type credentials struct {
	email    string
	password string
}

func (c *credentials) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.email, "email", "", "account email")
	cmd.Flags().StringVar(&c.password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
}

func newSignUpCommand(opts *globalOptions) *cobra.Command {
	var (
		creds    credentials
		role     string
		fullName string
	)

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and its camp profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, ok := authclient.ParseRole(role)
			if !ok {
				return fmt.Errorf("role must be one of %s", joinRoles())
			}

			cfg, err := opts.config()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			s, err := buildStack(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer s.close()

			_, err = s.coordinator.SignUp(ctx, authclient.SignUpInput{
				Email:    creds.email,
				Password: creds.password,
				Role:     parsed,
				FullName: fullName,
			})
			if err != nil && !errors.Is(err, authclient.ErrProfileSyncFailed) {
				return err
			}

			state, waitErr := s.coordinator.WaitReady(ctx)
			printState(cmd, state)
			if err != nil {
				return err
			}
			return waitErr
		},
	}

	creds.bind(cmd)
	cmd.Flags().StringVar(&role, "role", string(authclient.RoleCamper), "account role: "+joinRoles())
	cmd.Flags().StringVar(&fullName, "full-name", "", "profile full name")
	_ = cmd.MarkFlagRequired("full-name")

	return cmd
}

func newSignInCommand(opts *globalOptions) *cobra.Command {
	var creds credentials

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and print the resolved session",
		Long:  "Sign in and print the resolved session." + localProviderNote,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, state, err := signedIn(cmd, opts, creds)
			if err != nil {
				return err
			}
			defer s.close()

			printState(cmd, state)
			if state.Profile == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "no profile found, the account may need to complete signup")
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "dashboard: %s\n", state.Profile.Role.DashboardPath())
			return nil
		},
	}

	creds.bind(cmd)
	return cmd
}

func newUpdateProfileCommand(opts *globalOptions) *cobra.Command {
	var (
		creds   credentials
		fields  = map[string]*string{}
		cleared []string
	)

	flagNames := []string{"full-name", "date-of-birth", "phone", "emergency-contact", "medical-conditions", "profile-picture"}

	cmd := &cobra.Command{
		Use:   "update-profile",
		Short: "Sign in and patch the camp profile",
		Long:  "Sign in and patch the camp profile. Use --clear to send null for optional fields." + localProviderNote,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := authclient.ProfilePatch{}
			targets := map[string]**string{
				"full-name":          &patch.FullName,
				"date-of-birth":      &patch.DateOfBirth,
				"phone":              &patch.Phone,
				"emergency-contact":  &patch.EmergencyContact,
				"medical-conditions": &patch.MedicalConditions,
				"profile-picture":    &patch.ProfilePicture,
			}
			for _, name := range flagNames {
				if cmd.Flags().Changed(name) {
					*targets[name] = authclient.StringPtr(*fields[name])
				}
			}
			for _, name := range cleared {
				field, ok := clearable[name]
				if !ok {
					return fmt.Errorf("cannot clear %q", name)
				}
				patch.Clear = append(patch.Clear, field)
			}
			if patch.IsEmpty() {
				return errors.New("nothing to update, set at least one profile flag")
			}

			s, _, err := signedIn(cmd, opts, creds)
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := opts.context(cmd)
			defer cancel()

			if _, err := s.coordinator.UpdateProfile(ctx, patch); err != nil {
				return err
			}

			printState(cmd, s.coordinator.Snapshot())
			return nil
		},
	}

	creds.bind(cmd)
	for _, name := range flagNames {
		value := new(string)
		fields[name] = value
		cmd.Flags().StringVar(value, name, "", strings.ReplaceAll(name, "-", " "))
	}
	cmd.Flags().StringSliceVar(&cleared, "clear", nil, "optional fields to clear: date-of-birth, phone, emergency-contact, medical-conditions, profile-picture")

	return cmd
}

var clearable = map[string]authclient.ProfileField{
	"date-of-birth":      authclient.FieldDateOfBirth,
	"phone":              authclient.FieldPhone,
	"emergency-contact":  authclient.FieldEmergencyContact,
	"medical-conditions": authclient.FieldMedicalConditions,
	"profile-picture":    authclient.FieldProfilePicture,
}

func newTokenCommand(opts *globalOptions) *cobra.Command {
	var creds credentials

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign in and print a bearer credential",
		Long:  "Sign in and print a bearer credential." + localProviderNote,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := signedIn(cmd, opts, creds)
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := opts.context(cmd)
			defer cancel()

			token := s.coordinator.GetToken(ctx)
			if token == "" {
				return errors.New("no credential available")
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	creds.bind(cmd)
	return cmd
}

func signedIn(cmd *cobra.Command, opts *globalOptions, creds credentials) (*stack, authclient.State, error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, authclient.State{}, err
	}
	ctx, cancel := opts.context(cmd)
	defer cancel()

	s, err := buildStack(cmd.Context(), cfg, &creds)
	if err != nil {
		return nil, authclient.State{}, err
	}

	if err := s.coordinator.SignIn(ctx, creds.email, creds.password); err != nil {
		s.close()
		if code := authclient.IdentityErrorCode(err); code != "" {
			return nil, authclient.State{}, fmt.Errorf("sign in failed (%s): %w", code, err)
		}
		return nil, authclient.State{}, err
	}

	state, err := s.coordinator.WaitReady(ctx)
	if err != nil {
		s.close()
		return nil, authclient.State{}, err
	}
	return s, state, nil
}

func printState(cmd *cobra.Command, state authclient.State) {
	fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(state))
}

func joinRoles() string {
	roles := authclient.AllRoles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	return strings.Join(names, ", ")
}
