// tartctl is a thin client for a running tartfs server. Each invocation
// performs one control call over gRPC and prints the result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/tartfs/tartfs/pkg/control"
	"github.com/tartfs/tartfs/pkg/store"
	"github.com/tartfs/tartfs/pkg/transport"

	// Register the gRPC transport with the default registry.
	_ "github.com/tartfs/tartfs/pkg/grpc/transport"
)

const usageText = `tartctl - client for a tartfs server

Usage: tartctl [options] command [args]

Commands:
  create                  - Create an empty file, printing its id
  remove id               - Remove a file
  write id pos            - Write stdin at the given position
  append id               - Write stdin at the end of the file
  read id                 - Print a file's full live content to stdout
  info id                 - Show a file's block layout as JSON
  defrag id               - Defragment a file
  list                    - List all files
  stats                   - Show store statistics as JSON

Options:
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usageText)
		flag.PrintDefaults()
	}

	address := flag.String("address", "localhost:50061", "Server address")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	tlsEnabled := flag.Bool("tls", false, "Enable TLS")
	certFile := flag.String("cert", "", "TLS client certificate file")
	keyFile := flag.String("key", "", "TLS client key file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	client, err := transport.GetClient("grpc", *address, transport.TransportOptions{
		Timeout:    *timeout,
		TLSEnabled: *tlsEnabled,
		CertFile:   *certFile,
		KeyFile:    *keyFile,
	})
	if err != nil {
		fatal("Error creating client: %v", err)
	}

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		fatal("Error connecting to %s: %v", *address, err)
	}
	defer client.Close()

	if err := run(ctx, client, args); err != nil {
		fatal("Error: %v", err)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func run(ctx context.Context, client transport.Client, args []string) error {
	switch args[0] {
	case "create":
		resp, err := call(ctx, client, transport.TypeCreate, nil)
		if err != nil {
			return err
		}
		var created control.CreateResponse
		if err := json.Unmarshal(resp, &created); err != nil {
			return err
		}
		fmt.Println(created.FileID)
		return nil

	case "remove":
		id, err := fileIDArg(args)
		if err != nil {
			return err
		}
		payload, _ := json.Marshal(&control.FileRequest{FileID: id})
		_, err = call(ctx, client, transport.TypeRemove, payload)
		return err

	case "write", "append":
		id, err := fileIDArg(args)
		if err != nil {
			return err
		}
		req := &control.WriteRequest{FileID: id, Append: args[0] == "append"}
		if args[0] == "write" {
			if len(args) < 3 {
				return fmt.Errorf("write requires a position argument")
			}
			pos, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid position %q", args[2])
			}
			req.Pos = pos
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		req.Data = data

		payload, _ := json.Marshal(req)
		resp, err := call(ctx, client, transport.TypeWrite, payload)
		if err != nil {
			return err
		}
		var wrote control.WriteResponse
		if err := json.Unmarshal(resp, &wrote); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %d bytes, file size %d\n", wrote.N, wrote.Size)
		return nil

	case "read":
		id, err := fileIDArg(args)
		if err != nil {
			return err
		}
		payload, _ := json.Marshal(&control.ReadRequest{FileID: id})
		resp, err := call(ctx, client, transport.TypeRead, payload)
		if err != nil {
			return err
		}
		var read control.ReadResponse
		if err := json.Unmarshal(resp, &read); err != nil {
			return err
		}
		_, err = os.Stdout.Write(read.Data)
		return err

	case "info":
		id, err := fileIDArg(args)
		if err != nil {
			return err
		}
		payload, _ := json.Marshal(&control.FileRequest{FileID: id})
		resp, err := call(ctx, client, transport.TypeGetInfo, payload)
		if err != nil {
			return err
		}
		return printJSON(resp)

	case "defrag":
		id, err := fileIDArg(args)
		if err != nil {
			return err
		}
		payload, _ := json.Marshal(&control.FileRequest{FileID: id})
		resp, err := call(ctx, client, transport.TypeDefragment, payload)
		if err != nil {
			return err
		}
		var result store.DefragResult
		if err := json.Unmarshal(resp, &result); err != nil {
			return err
		}
		fmt.Printf("reclaimed %d blocks, file now spans %d\n",
			result.BlocksReclaimed, result.BlockCount)
		return nil

	case "list":
		resp, err := call(ctx, client, transport.TypeListFiles, nil)
		if err != nil {
			return err
		}
		var listing control.ListResponse
		if err := json.Unmarshal(resp, &listing); err != nil {
			return err
		}
		for _, f := range listing.Files {
			fmt.Printf("%4d  %8d bytes  %4d blocks  modified %s\n",
				f.FileID, f.Size, f.BlockCount,
				time.Unix(f.ModifiedAt, 0).Format(time.RFC3339))
		}
		return nil

	case "stats":
		resp, err := call(ctx, client, transport.TypeGetStats, nil)
		if err != nil {
			return err
		}
		return printJSON(resp)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func call(ctx context.Context, client transport.Client, reqType string, payload []byte) ([]byte, error) {
	resp, err := client.Send(ctx, transport.NewRequest(reqType, payload))
	if err != nil {
		return nil, err
	}
	if respErr := resp.Error(); respErr != nil {
		return nil, respErr
	}
	return resp.Payload(), nil
}

func fileIDArg(args []string) (uint32, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s requires a file id argument", args[0])
	}
	id, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file id %q", args[1])
	}
	return uint32(id), nil
}

func printJSON(raw []byte) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
