package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"nexusdb/src/server"
	"nexusdb/src/settings"
)

// printUsage prints helpful usage information
func printUsage() {
	log.Println("nexusdb - a GraphQL CRUD+realtime data service")
	log.Println("\nUsage:")
	log.Println("  nexusdb [options]")
	log.Println("\nOptions:")
	flag.PrintDefaults()

	log.Println("\nExamples:")
	log.Println("  nexusdb --schema=datamodel.graphql --datadir=/data")
	log.Println("  nexusdb --schema=datamodel.graphql --secret=my-service-secret --port=4466")
}

func main() {
	// Get the global settings instance
	args := settings.GetSettings()

	// Define command line flags that map to the Arguments struct
	flag.StringVar(&args.DataDir, "datadir", "", "Directory for the node store (empty: in-memory)")
	flag.StringVar(&args.SchemaFile, "schema", "datamodel.graphql", "Path to the SDL data model")
	flag.StringVar(&args.Host, "host", "127.0.0.1", "Host name or IP address to listen on")
	flag.IntVar(&args.Port, "port", 4466, "Port for the HTTP server")
	flag.StringVar(&args.Secret, "secret", "", "Service secret gating API access (empty: unauthenticated mode)")
	flag.StringVar(&args.TokenStoreFile, "tokenstore", "", "Path to the encrypted permanent token store")
	flag.StringVar(&args.ConfigFile, "config", "", "Path to YAML config file")
	flag.BoolVar(&args.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&args.Debug, "debug", false, "Enable debug mode")
	flag.StringVar(&args.Version, "version", "0.1.0", "Shows version")
	issueToken := flag.String("issuetoken", "", "Mint a named permanent token, print it and exit")

	// Parse the command line
	flag.Parse()

	if err := settings.LoadConfigFile(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		printUsage()
		os.Exit(1)
	}

	if err := validateArguments(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		printUsage()
		os.Exit(1)
	}

	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)

	if args.Verbose {
		log.Println("nexusdb starting with options:")
		log.Printf("  Data Directory: %s\n", args.DataDir)
		log.Printf("  Schema: %s\n", args.SchemaFile)
		log.Printf("  Host: %s\n", args.Host)
		log.Printf("  Port: %d\n", args.Port)
		log.Printf("  Config File: %s\n", args.ConfigFile)
		log.Printf("  Authenticated: %v\n", args.Secret != "")
	}

	// A schema that fails to bind is fatal; InitServer surfaces it before
	// anything can serve.
	srv, err := server.InitServer(args)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	if *issueToken != "" {
		token, err := srv.IssueToken(*issueToken)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Printf("%s\n", token)
		return
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Handle graceful shutdown
	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, syscall.SIGINT, syscall.SIGTERM)

	<-shutdownSignal
	fmt.Println("\nShutting down server...")

	if err := srv.Stop(); err != nil {
		log.Printf("Error stopping server: %v", err)
	}

	fmt.Println("Server shutdown complete")
}

// validateArguments validates the arguments and returns an error if invalid
func validateArguments(args *settings.Arguments) error {
	if args.SchemaFile == "" {
		return fmt.Errorf("a schema file is required")
	}
	if _, err := os.Stat(args.SchemaFile); err != nil {
		return fmt.Errorf("could not access schema file: %w", err)
	}

	if args.DataDir != "" {
		dirInfo, err := os.Stat(args.DataDir)
		if err != nil {
			if os.IsNotExist(err) {
				// Try to create the directory
				if err := os.MkdirAll(args.DataDir, 0755); err != nil {
					return fmt.Errorf("could not create data directory: %w", err)
				}
			} else {
				return fmt.Errorf("error accessing data directory: %w", err)
			}
		} else if !dirInfo.IsDir() {
			return fmt.Errorf("data directory path exists but is not a directory: %s", args.DataDir)
		}
	}

	// Validate port range
	if args.Port < 1 || args.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", args.Port)
	}

	// If config file is specified, check if it exists and is readable
	if args.ConfigFile != "" {
		if _, err := os.Stat(args.ConfigFile); err != nil {
			return fmt.Errorf("could not access config file: %w", err)
		}
	}

	if args.TokenStoreFile != "" && args.Secret == "" {
		return fmt.Errorf("a token store requires a configured secret")
	}

	return nil
}
